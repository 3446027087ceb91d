package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/pipeline"
)

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunLines(t *testing.T) {
	t.Setenv("TP_PIPELINE_TEMP_DIR", t.TempDir())
	input := writeInput(t, "a|b|a\nb|c\na|c|c\n")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-input", input, "-k", "2", "-chunk", "2"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if want := "3|c\n3|a\n"; stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestRunStdinJSON(t *testing.T) {
	t.Setenv("TP_PIPELINE_TEMP_DIR", t.TempDir())
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("x;y\ny\n")
	code := run(context.Background(), []string{"-input", "-", "-k", "1", "-delimiter", ";", "-format", "json"}, stdin, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var res pipeline.Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, stdout.String())
	}
	if len(res.Phrases) != 1 || res.Phrases[0].Phrase != "y" || res.Phrases[0].Count != 2 || res.Records != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunOutputFile(t *testing.T) {
	t.Setenv("TP_PIPELINE_TEMP_DIR", t.TempDir())
	input := writeInput(t, "q\nq\nr\n")
	out := filepath.Join(t.TempDir(), "top.txt")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-input", input, "-output", out}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "2|q\n1|r\n" || stdout.Len() != 0 {
		t.Errorf("file = %q, stdout = %q", data, stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"-input", "x", "-format", "xml"},
		{"-input", "x", "-k", "-3"},
		{"-input", "x", "-delimiter", "ab"},
		{"-nosuchflag"},
	}
	for _, args := range tests {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, nil, &stdout, &stderr); code != 2 {
			t.Errorf("run(%q) = %d, want 2", args, code)
		}
	}
}

func TestRunMissingInput(t *testing.T) {
	t.Setenv("TP_PIPELINE_TEMP_DIR", t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-input", filepath.Join(t.TempDir(), "missing")}, nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "AGGREGATE") {
		t.Errorf("stderr should name the failing stage: %s", stderr.String())
	}
}
