package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"metapipe/internal/pipeline"
)

// SelectVariant resolves which plan the run uses.
//
// An explicit 1-based choice is validated against the variant list. A zero
// choice prints a menu and reads one line from in; anything but a valid
// number is an error, there is no re-prompt loop.
func SelectVariant(choice int, variants []*pipeline.Plan, in io.Reader, out io.Writer) (*pipeline.Plan, error) {
	if choice == 0 {
		fmt.Fprintln(out, "Available pipelines:")
		for i, plan := range variants {
			fmt.Fprintf(out, "  %d) %s\n", i+1, plan.Name)
		}
		fmt.Fprintf(out, "Select a pipeline [1-%d]: ", len(variants))

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return nil, invalidInvocationf("reading pipeline selection: %v", err)
		}
		choice, err = strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return nil, invalidInvocationf("invalid pipeline selection %q", strings.TrimSpace(line))
		}
	}
	if choice < 1 || choice > len(variants) {
		return nil, invalidInvocationf("pipeline selection %d out of range [1-%d]", choice, len(variants))
	}
	return variants[choice-1], nil
}
