package exam

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const medicalBankYAML = `college_type: medical
questions:
  - id: med-card-2
    scenario_id: cardiology
    number: 2
    text: "What investigations confirm the diagnosis?"
    expected_answer: "ECG and serial troponins."
    keywords: [ecg, troponin]
  - id: med-card-1
    scenario_id: cardiology
    number: 1
    text: "A patient presents with crushing chest pain. What is your first step?"
    expected_answer: "Suspect acute myocardial infarction."
    keywords: [infarction]
  - id: med-resp-1
    scenario_id: respiratory
    number: 1
    text: "Describe the management of acute asthma."
    expected_answer: "Oxygen, nebulised salbutamol, steroids."
    keywords: [oxygen, salbutamol, steroids]
`

func TestLoadBankFromReader(t *testing.T) {
	bf, err := LoadBankFromReader(strings.NewReader(medicalBankYAML))
	if err != nil {
		t.Fatalf("LoadBankFromReader: %v", err)
	}
	if bf.CollegeType != CollegeMedical {
		t.Errorf("CollegeType = %v, want medical", bf.CollegeType)
	}
	if len(bf.Questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(bf.Questions))
	}
	// Questions inherit the file-level college type.
	for _, q := range bf.Questions {
		if q.CollegeType != CollegeMedical {
			t.Errorf("question %s college = %v, want medical", q.ID, q.CollegeType)
		}
	}
}

func TestLoadBankValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown college", "college_type: astrology\nquestions: []\n"},
		{"unknown field", "college_type: law\nbogus: 1\nquestions: []\n"},
		{"missing id", "college_type: law\nquestions:\n  - text: \"q?\"\n"},
		{"missing text", "college_type: law\nquestions:\n  - id: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadBankFromReader(strings.NewReader(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBankOrderingAndLimit(t *testing.T) {
	bf, err := LoadBankFromReader(strings.NewReader(medicalBankYAML))
	if err != nil {
		t.Fatalf("LoadBankFromReader: %v", err)
	}
	bank := NewBank()
	bank.Add(bf.Questions...)

	qs, err := bank.Questions(context.Background(), CollegeMedical, 0)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	wantOrder := []string{"med-card-1", "med-card-2", "med-resp-1"}
	if len(qs) != len(wantOrder) {
		t.Fatalf("got %d questions, want %d", len(qs), len(wantOrder))
	}
	for i, want := range wantOrder {
		if qs[i].ID != want {
			t.Errorf("question %d = %s, want %s", i, qs[i].ID, want)
		}
	}

	limited, err := bank.Questions(context.Background(), CollegeMedical, 2)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited to 2, got %d", len(limited))
	}

	empty, err := bank.Questions(context.Background(), CollegeLaw, 0)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("law bank should be empty, got %d", len(empty))
	}
}

func TestBankLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "medical.yaml"), []byte(medicalBankYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	bank := NewBank()
	n, err := bank.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 3 {
		t.Errorf("loaded %d questions, want 3", n)
	}
}

func TestBankLoadDirPropagatesParseErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("college_type: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bank := NewBank()
	if _, err := bank.LoadDir(dir); !errors.Is(err, ErrUnknownCollegeType) {
		t.Errorf("LoadDir err = %v, want ErrUnknownCollegeType", err)
	}
}
