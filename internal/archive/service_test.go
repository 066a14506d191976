package archive

import (
	"strings"
	"testing"
)

func TestEnsureProjectRepoIdempotent(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureProjectRepo("prj_1"); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	if err := svc.EnsureProjectRepo("prj_1"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}

	commits, err := svc.History("prj_1", 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 initial commit, got %d", len(commits))
	}
}

func TestCommitVersionAndHeadSnapshot(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureProjectRepo("prj_2"); err != nil {
		t.Fatalf("ensure repo failed: %v", err)
	}

	info, err := svc.CommitVersion("prj_2", "QMS-1", []byte(`{"title":"Scope"}`), 1, "CREATE", "Dana")
	if err != nil {
		t.Fatalf("commit version failed: %v", err)
	}
	if info.Hash == "" {
		t.Error("expected commit hash")
	}
	if !strings.Contains(info.Message, "CREATE QMS-1 v1") {
		t.Errorf("unexpected commit message %q", info.Message)
	}
	if info.Author != "Dana" {
		t.Errorf("expected author Dana, got %q", info.Author)
	}

	raw, err := svc.HeadSnapshot("prj_2", "QMS-1")
	if err != nil {
		t.Fatalf("head snapshot failed: %v", err)
	}
	if !strings.Contains(string(raw), `"title":"Scope"`) {
		t.Errorf("unexpected archived content %q", raw)
	}
}

func TestCommitVersionSequence(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureProjectRepo("prj_3"); err != nil {
		t.Fatalf("ensure repo failed: %v", err)
	}

	if _, err := svc.CommitVersion("prj_3", "QMS-1", []byte(`{"title":"v1"}`), 1, "CREATE", "Dana"); err != nil {
		t.Fatalf("create commit failed: %v", err)
	}
	if _, err := svc.CommitVersion("prj_3", "QMS-1", []byte(`{"title":"v2"}`), 2, "UPDATE", "Lee"); err != nil {
		t.Fatalf("update commit failed: %v", err)
	}

	commits, err := svc.History("prj_3", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	// Initial commit plus two versions, newest first.
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if !strings.Contains(commits[0].Message, "UPDATE QMS-1 v2") {
		t.Errorf("unexpected head commit message %q", commits[0].Message)
	}

	raw, err := svc.HeadSnapshot("prj_3", "QMS-1")
	if err != nil {
		t.Fatalf("head snapshot failed: %v", err)
	}
	if !strings.Contains(string(raw), "v2") {
		t.Errorf("head snapshot should hold latest version, got %q", raw)
	}
}

func TestDeleteCommitsTombstone(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureProjectRepo("prj_4"); err != nil {
		t.Fatalf("ensure repo failed: %v", err)
	}

	if _, err := svc.CommitVersion("prj_4", "QMS-2", []byte(`{"title":"doomed"}`), 1, "CREATE", "Dana"); err != nil {
		t.Fatalf("create commit failed: %v", err)
	}
	if _, err := svc.CommitVersion("prj_4", "QMS-2", nil, 2, "DELETE", "Lee"); err != nil {
		t.Fatalf("delete commit failed: %v", err)
	}

	raw, err := svc.HeadSnapshot("prj_4", "QMS-2")
	if err != nil {
		t.Fatalf("head snapshot failed: %v", err)
	}
	if !strings.Contains(string(raw), `"deleted":true`) {
		t.Errorf("expected tombstone, got %q", raw)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureProjectRepo("prj_5"); err != nil {
		t.Fatalf("ensure repo failed: %v", err)
	}
	for v := 1; v <= 4; v++ {
		if _, err := svc.CommitVersion("prj_5", "QMS-3", []byte(`{}`), v, "UPDATE", "Dana"); err != nil {
			t.Fatalf("commit v%d failed: %v", v, err)
		}
	}

	commits, err := svc.History("prj_5", 2)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits with limit, got %d", len(commits))
	}
}
