package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/omnishelf/cmd/omnishelf/cmd"
	"github.com/MeKo-Tech/omnishelf/internal/testutil"
)

// RegisterCommonSteps registers CLI execution and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a shelf image "([^"]*)"$`, testCtx.aShelfImage)
	sc.Step(`^a text file "([^"]*)" containing "([^"]*)"$`, testCtx.aTextFileContaining)
	sc.Step(`^an empty directory "([^"]*)"$`, testCtx.anEmptyDirectory)
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRun)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}

// aShelfImage writes the default synthetic shelf photo into the temp directory.
func (testCtx *TestContext) aShelfImage(name string) error {
	path := testCtx.TempPath(name)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: test fixture under the scenario temp dir
	if err != nil {
		return fmt.Errorf("failed to create shelf image: %w", err)
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, testutil.GenerateShelfImage(testutil.DefaultShelfConfig()))
}

func (testCtx *TestContext) aTextFileContaining(name, content string) error {
	return os.WriteFile(testCtx.TempPath(name), []byte(content), 0o600)
}

func (testCtx *TestContext) anEmptyDirectory(name string) error {
	return testutil.EnsureDir(testCtx.TempPath(name))
}

// iRun executes the CLI in-process. The leading "omnishelf" is optional and
// {tmp} expands to the scenario temp directory.
func (testCtx *TestContext) iRun(command string) error {
	args := splitArgs(testCtx.expand(command))
	if len(args) > 0 && args[0] == "omnishelf" {
		args = args[1:]
	}

	root := cmd.GetRootCommand()
	resetFlags(root)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	start := time.Now()
	err := root.Execute()

	testCtx.LastCommand = command
	testCtx.LastDuration = time.Since(start)
	testCtx.LastOutput = buf.String()
	testCtx.LastError = err
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\noutput:\n%s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded unexpectedly\noutput:\n%s", testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.combinedOutput(), expected) {
		return fmt.Errorf("output does not contain %q:\n%s", expected, testCtx.combinedOutput())
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.combinedOutput(), unexpected) {
		return fmt.Errorf("output unexpectedly contains %q:\n%s", unexpected, testCtx.combinedOutput())
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	out := strings.TrimSpace(testCtx.LastOutput)
	if !json.Valid([]byte(out)) {
		return fmt.Errorf("output is not valid JSON:\n%s", out)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := testCtx.expand(name)
	if !testutil.FileExists(path) {
		return fmt.Errorf("file %s does not exist", path)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, expected string) error {
	data, err := os.ReadFile(testCtx.expand(name))
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), expected) {
		return fmt.Errorf("file %s does not contain %q", name, expected)
	}
	return nil
}

// combinedOutput includes the returned error, which cobra prints only when
// errors are not silenced.
func (testCtx *TestContext) combinedOutput() string {
	if testCtx.LastError != nil {
		return testCtx.LastOutput + "\n" + testCtx.LastError.Error()
	}
	return testCtx.LastOutput
}

// resetFlags restores every flag in the command tree to its default so that
// values from earlier scenarios do not leak into the next run.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// splitArgs splits a command line on spaces, honoring single quotes.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}
