package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLintAcceptsMarkedStatements(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\n"+
		"const cols = `id, job_id, updated_at`\n\n"+
		"const QSelect = `--sql d81f3e27-9b0c-4c6a-a4f2-30e5c1b78d94\nselect ` + cols + ` from video_jobs`\n\n"+
		"const QDelete = \"--sql 5b9e2d70-1a4c-4e8f-b3d6-87f0a2c4e915\\ndelete from video_jobs\"\n")

	vs, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("violations = %v, want none", vs)
	}
}

func TestLintReportsMissingMarkerInConcatenation(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\n"+
		"const cols = `id`\n\n"+
		"const QList = `select ` + cols + ` from video_jobs`\n")

	vs, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(vs) != 1 || vs[0].name != "QList" {
		t.Fatalf("violations = %v, want one for QList", vs)
	}
}

func TestLintReportsReusedMarker(t *testing.T) {
	dir := t.TempDir()
	marker := "--sql 8e3b6f02-c95d-4a17-b0e4-4f7a9d1c6e28\\n"
	writeGo(t, dir, "a.go", "package q\n\nconst QA = \""+marker+"select 1\"\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QB = \""+marker+"select 2\"\n")

	vs, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(vs) != 1 || !strings.Contains(vs[0].message, "already used by QA") {
		t.Fatalf("violations = %v, want reuse of QA's marker", vs)
	}
}

func TestLintSkipsIgnoredDirectories(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "_scratch/q.go", "package q\n\nconst Q = `select 1`\n")
	writeGo(t, dir, "testdata/q.go", "package q\n\nconst Q = `select 1`\n")
	writeGo(t, dir, "q_test.go", "package q\n\nconst Q = `select 1`\n")

	vs, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("violations = %v, want none", vs)
	}
}
