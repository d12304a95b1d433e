package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/MeKo-Tech/omnishelf/cmd/omnishelf/cmd"
)

func main() {
	// A local .env may carry OPENAI_API_KEY and OMNISHELF_* overrides.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
	}
	cmd.Execute()
}
