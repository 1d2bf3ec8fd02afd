package scenario_test

import (
	"errors"
	"testing"

	"payments-e2e/scenario"
)

func TestCompileTags(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"@pse", "@pse"},
		{"@positive or @negative", "@positive,@negative"},
		{"@pse and not @timeout", "@pse && ~@timeout"},
		{"(@auth or @pse) and @timeout", "@auth,@pse && @timeout"},
		{"not (@a and @b)", "~@a,~@b"},
		{"not (@a or @b)", "~@a && ~@b"},
		{"@a or @b and @c", "@a,@b && @a,@c"},
		{"not not @a", "@a"},
	}

	for _, tt := range tests {
		got, err := scenario.CompileTags(tt.expr)
		if err != nil {
			t.Errorf("CompileTags(%q): %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CompileTags(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestCompileTagsInvalid(t *testing.T) {
	for _, expr := range []string{
		"pse",
		"@pse and",
		"or @pse",
		"(@pse",
		"@pse)",
		"@pse @nequi",
		"@a,@b",
		"~@a",
		"@",
	} {
		if _, err := scenario.CompileTags(expr); !errors.Is(err, scenario.ErrTagExpression) {
			t.Errorf("CompileTags(%q): expected ErrTagExpression, got %v", expr, err)
		}
	}
}
