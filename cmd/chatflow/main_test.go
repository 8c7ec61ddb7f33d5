package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

const validFlow = `
name: welcome
status: active
triggers:
  - {op: equals, left: body, value: oi}
graph:
  start: hello
  nodes:
    - id: hello
      kind: message
      message: {type: text, text: "Hi {{contact_name}}"}
`

func TestVersionCmd(t *testing.T) {
	t.Setenv("APP_VERSION", "")
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "chatflow dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestVersionCmd_EnvOverride(t *testing.T) {
	t.Setenv("APP_VERSION", "2.3.4")
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "chatflow 2.3.4") {
		t.Errorf("expected env version, got: %s", buf.String())
	}
}

func TestRootCmd_MissingExplicitEnvFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "nope.env"), "version"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a missing --env-file")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]bool{"version": false, "serve": false, "migrate": false, "flow": false}
	for _, c := range cmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestFlowValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte(validFlow), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("name: x\ngraph: {start: a, nodes: [{id: a, kind: teleport}]}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	buf := new(bytes.Buffer)
	if err := runFlowValidate(buf, []string{good}); err != nil {
		t.Fatalf("valid file: %v (%s)", err, buf.String())
	}
	if !strings.Contains(buf.String(), `"welcome" ok (1 nodes, 1 triggers)`) {
		t.Fatalf("output = %s", buf.String())
	}

	buf.Reset()
	err := runFlowValidate(buf, []string{good, bad})
	if err == nil || !strings.Contains(err.Error(), "1 of 2 files invalid") {
		t.Fatalf("expected one invalid file, got %v", err)
	}
	if !strings.Contains(buf.String(), "bad.yaml:") {
		t.Fatalf("output = %s", buf.String())
	}
}

type fakeImporter struct {
	flows []*domain.Flow
	err   error
	user  string
}

func (f *fakeImporter) ImportYAML(_ context.Context, userID string, _ []byte) ([]*domain.Flow, error) {
	f.user = userID
	return f.flows, f.err
}

func TestFlowImport_ReportsPartialProgress(t *testing.T) {
	imp := &fakeImporter{
		flows: []*domain.Flow{{ID: "f1", Name: "welcome", Status: domain.FlowActive}},
		err:   errors.New(`import "second": boom`),
	}
	buf := new(bytes.Buffer)
	err := runFlowImport(context.Background(), buf, imp, "ops", []byte(validFlow))
	if err == nil {
		t.Fatal("expected import error")
	}
	if imp.user != "ops" || !strings.Contains(buf.String(), `imported f1 "welcome" (active)`) {
		t.Fatalf("user=%q output=%s", imp.user, buf.String())
	}
}
