package export

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// CSVSink writes long-format CSV: one row per exported value, carrying the
// step's convergence annotation on every row. Style "single" keeps one
// results file; "separate" keeps one file per element class. Output is
// gzip-wrapped when compression is on, and writers are flushed whenever
// roughly MaxChunkBytes have been buffered.
type CSVSink struct {
	cfg     Config
	writers map[string]*csvFile // keyed by class, or "" for single style
	reports *csvFile
}

type csvFile struct {
	file *os.File
	gz   *gzip.Writer
	w    *csv.Writer
	n    int // approximate bytes since last flush
}

var stepHeader = []string{
	"step_index", "timestamp", "converged", "iterations_used",
	"class", "element", "property", "value",
}

// NewCSVSink builds an unopened CSV sink rooted at cfg.OutputDir.
func NewCSVSink(cfg Config) *CSVSink {
	return &CSVSink{cfg: cfg, writers: make(map[string]*csvFile)}
}

// Open implements Sink.
func (s *CSVSink) Open() error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return nil
}

func (s *CSVSink) newFile(name string) (*csvFile, error) {
	ext := ".csv"
	if s.cfg.Compression {
		ext = ".csv.gz"
	}
	f, err := os.Create(filepath.Join(s.cfg.OutputDir, name+ext))
	if err != nil {
		return nil, err
	}
	cf := &csvFile{file: f}
	var out io.Writer = f
	if s.cfg.Compression {
		cf.gz = gzip.NewWriter(f)
		out = cf.gz
	}
	cf.w = csv.NewWriter(out)
	return cf, nil
}

func (s *CSVSink) writerFor(class string) (*csvFile, error) {
	key := ""
	name := "results"
	if s.cfg.Style == "separate" {
		key = class
		name = "results_" + class
	}
	if cf, ok := s.writers[key]; ok {
		return cf, nil
	}
	cf, err := s.newFile(name)
	if err != nil {
		return nil, err
	}
	if err := cf.w.Write(stepHeader); err != nil {
		return nil, err
	}
	s.writers[key] = cf
	return cf, nil
}

// WriteStep implements Sink.
func (s *CSVSink) WriteStep(rec StepRecord) error {
	values := make([]Value, len(rec.Values))
	copy(values, rec.Values)
	OrderValues(values, s.cfg.Mode)

	ts := rec.Timestamp.Format("2006-01-02 15:04:05")
	for _, v := range values {
		cf, err := s.writerFor(v.Class)
		if err != nil {
			return err
		}
		row := []string{
			strconv.Itoa(rec.StepIndex),
			ts,
			strconv.FormatBool(rec.Converged),
			strconv.Itoa(rec.IterationsUsed),
			v.Class,
			v.Element,
			v.Property,
			strconv.FormatFloat(v.Value, 'g', -1, 64),
		}
		if err := cf.w.Write(row); err != nil {
			return err
		}
		cf.n += rowBytes(row)
		if cf.n >= s.cfg.MaxChunkBytes {
			cf.w.Flush()
			cf.n = 0
			if err := cf.w.Error(); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteReport implements Sink.
func (s *CSVSink) WriteReport(rec ReportRecord) error {
	if s.reports == nil {
		cf, err := s.newFile("reports")
		if err != nil {
			return err
		}
		if err := cf.w.Write([]string{"report", "element", "value"}); err != nil {
			return err
		}
		s.reports = cf
	}
	return s.reports.w.Write([]string{
		rec.Report,
		rec.Element,
		strconv.FormatFloat(rec.Value, 'g', -1, 64),
	})
}

// Close implements Sink: flushes and closes every open file.
func (s *CSVSink) Close() error {
	var firstErr error
	closeFile := func(cf *csvFile) {
		cf.w.Flush()
		if err := cf.w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if cf.gz != nil {
			if err := cf.gz.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := cf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, cf := range s.writers {
		closeFile(cf)
	}
	if s.reports != nil {
		closeFile(s.reports)
	}
	s.writers = make(map[string]*csvFile)
	s.reports = nil
	return firstErr
}

func rowBytes(row []string) int {
	n := len(row) + 1 // separators and newline
	for _, f := range row {
		n += len(f)
	}
	return n
}
