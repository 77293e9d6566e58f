package domain

import (
	"bytes"
	"testing"
)

func TestAppendSequence(t *testing.T) {
	got := AppendSequence(nil, []int{2, 3, 257})
	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 2,
		0, 0, 0, 0, 0, 0, 0, 3,
		0, 0, 0, 0, 0, 0, 1, 1,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(AppendSequence(nil, nil)) != 0 {
		t.Error("expected empty encoding for empty sequence")
	}
	prefix := []byte{0xff}
	if got := AppendSequence(prefix, []int{1}); !bytes.Equal(got, []byte{0xff, 0, 0, 0, 0, 0, 0, 0, 1}) {
		t.Errorf("expected encoding appended after prefix, got %v", got)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if JobRunning.Terminal() {
		t.Error("running must not be terminal")
	}
	for _, s := range []JobStatus{JobCompleted, JobCancelled, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}
