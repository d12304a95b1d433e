//go:build !gocv

package proposer

func newDefaultEdgeBackend() EdgeBackend { return PureEdgeBackend{} }
