package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reparanda/internal/policy"
)

// PolicyInfo describes one registered policy.
type PolicyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default,omitempty"`
}

type policyList []PolicyInfo

func (l policyList) String() string {
	var b strings.Builder
	for i, p := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		marker := " "
		if p.Default {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-16s %s", marker, p.Name, p.Description)
	}
	return b.String()
}

// NewPoliciesCommand creates the policies command.
func NewPoliciesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "policies",
		Short:         "List the available revert policies",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := make(policyList, 0, len(policy.Names()))
			for _, name := range policy.Names() {
				list = append(list, PolicyInfo{
					Name:        name,
					Description: policy.Describe(name),
					Default:     name == policy.NameRuleName,
				})
			}
			return newFormatter(rootOpts, cmd).Success(list)
		},
	}
}
