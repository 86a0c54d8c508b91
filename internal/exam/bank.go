package exam

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// BankFile is the top-level structure of a question-bank YAML file.
//
// Example:
//
//	college_type: medical
//	questions:
//	  - id: med-card-1
//	    scenario_id: cardiology
//	    number: 1
//	    text: "A patient presents with crushing chest pain..."
//	    expected_answer: "Acute myocardial infarction; order an ECG..."
//	    keywords: [infarction, ecg, troponin]
type BankFile struct {
	CollegeType CollegeType `yaml:"college_type"`
	Questions   []Question  `yaml:"questions"`
}

// LoadBankFile reads and parses one question-bank YAML file from disk.
func LoadBankFile(path string) (*BankFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("exam: open bank file %q: %w", path, err)
	}
	defer f.Close()

	bf, err := LoadBankFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("exam: parse bank file %q: %w", path, err)
	}
	return bf, nil
}

// LoadBankFromReader parses question-bank YAML from an [io.Reader]. The
// reader is consumed entirely; the caller is responsible for closing it.
func LoadBankFromReader(r io.Reader) (*BankFile, error) {
	var bf BankFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&bf); err != nil {
		return nil, fmt.Errorf("exam: decode bank yaml: %w", err)
	}
	if !bf.CollegeType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollegeType, bf.CollegeType)
	}
	for i := range bf.Questions {
		q := &bf.Questions[i]
		if q.CollegeType == "" {
			q.CollegeType = bf.CollegeType
		}
		if q.ID == "" {
			return nil, fmt.Errorf("exam: question %d has no id", i)
		}
		if q.Text == "" {
			return nil, fmt.Errorf("exam: question %q has no text", q.ID)
		}
	}
	return &bf, nil
}

// Bank is an in-memory QuestionSource backed by YAML files. It is read-only
// after construction and safe for concurrent use.
type Bank struct {
	mu        sync.RWMutex
	byCollege map[CollegeType][]Question
}

// NewBank returns an empty bank.
func NewBank() *Bank {
	return &Bank{byCollege: make(map[CollegeType][]Question)}
}

// LoadDir loads every .yaml/.yml file under dir into the bank. Returns the
// number of questions loaded.
func (b *Bank) LoadDir(dir string) (int, error) {
	loaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return nil
		}
		bf, err := LoadBankFile(path)
		if err != nil {
			return err
		}
		b.Add(bf.Questions...)
		loaded += len(bf.Questions)
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("exam: load bank dir %q: %w", dir, err)
	}
	return loaded, nil
}

// Add appends questions to the bank, keeping each college's list sorted by
// scenario and question number.
func (b *Bank) Add(questions ...Question) {
	b.mu.Lock()
	defer b.mu.Unlock()
	touched := make(map[CollegeType]struct{})
	for _, q := range questions {
		b.byCollege[q.CollegeType] = append(b.byCollege[q.CollegeType], q)
		touched[q.CollegeType] = struct{}{}
	}
	for college := range touched {
		qs := b.byCollege[college]
		sort.SliceStable(qs, func(i, j int) bool {
			if qs[i].ScenarioID != qs[j].ScenarioID {
				return qs[i].ScenarioID < qs[j].ScenarioID
			}
			return qs[i].Number < qs[j].Number
		})
	}
}

// Questions implements QuestionSource.
func (b *Bank) Questions(_ context.Context, college CollegeType, limit int) ([]Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	qs := b.byCollege[college]
	if limit > 0 && limit < len(qs) {
		qs = qs[:limit]
	}
	out := make([]Question, len(qs))
	copy(out, qs)
	return out, nil
}

var _ QuestionSource = (*Bank)(nil)
