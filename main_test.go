package main

import (
	"errors"
	"flag"
	"testing"

	"payments-e2e/config"
)

func runFlags(t *testing.T, args ...string) (*flag.FlagSet, *bool, *string, *string) {
	t.Helper()
	fset := flag.NewFlagSet("run", flag.ContinueOnError)
	strict := fset.Bool("strict", false, "")
	tags := fset.String("tags", "", "")
	target := fset.String("target", "", "")
	if err := fset.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fset, strict, tags, target
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := config.FromMap("test.properties", map[string]string{
		"scenario.strict": "true",
		"scenario.tags":   "@pse",
		"scenario.target": "sandbox",
	})

	fset, strict, tags, target := runFlags(t)
	if err := applyConfigDefaults(fset, cfg); err != nil {
		t.Fatal(err)
	}
	if !*strict || *tags != "@pse" || *target != "sandbox" {
		t.Errorf("expected config values, got strict=%v tags=%q target=%q", *strict, *tags, *target)
	}
}

func TestExplicitFlagsOverrideConfig(t *testing.T) {
	cfg := config.FromMap("test.properties", map[string]string{
		"scenario.strict": "true",
		"scenario.tags":   "@pse",
	})

	fset, strict, tags, target := runFlags(t, "-strict=false", "-tags=@nequi")
	if err := applyConfigDefaults(fset, cfg); err != nil {
		t.Fatal(err)
	}
	if *strict {
		t.Error("expected -strict=false to win over scenario.strict=true")
	}
	if *tags != "@nequi" {
		t.Errorf("expected -tags to win, got %q", *tags)
	}
	if *target != "principal" {
		t.Errorf("expected the principal target by default, got %q", *target)
	}
}

func TestMalformedStrictIsAnError(t *testing.T) {
	cfg := config.FromMap("test.properties", map[string]string{"scenario.strict": "ture"})

	fset, _, _, _ := runFlags(t)
	if err := applyConfigDefaults(fset, cfg); !errors.Is(err, config.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
