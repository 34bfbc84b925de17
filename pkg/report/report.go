// Package report defines the per-identifier outcome records produced by a
// harvest run and writes them out as CSV tables.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// FetchOutcome is the terminal record for one identifier submitted to the
// downloader: persisted, or failed with a reason. Every submitted identifier
// ends in exactly one of these.
type FetchOutcome struct {
	ID        string
	Persisted bool
	Err       string
}

// Mapping is one id-conversion result. PMCID is empty when the upstream has
// no mapping; Err is set when a chunk was short-circuited on a malformed
// response.
type Mapping struct {
	PMID  string
	PMCID string
	Err   string
}

// SubjectReport is the full outcome of one subject's pipeline run.
type SubjectReport struct {
	Subject   string
	RunID     string
	NoResults bool
	Truncated bool
	PMIDCount int
	Mappings  []Mapping
	Outcomes  []FetchOutcome

	// Err is set when the pipeline itself stopped early (cancellation);
	// per-identifier failures live in Outcomes instead.
	Err string
}

// Writer persists subject and aggregate reports as CSV files under Dir.
type Writer struct {
	Dir string
}

// NewWriter creates the report directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &Writer{Dir: dir}, nil
}

// WriteSubject writes the subject's mapping table and outcome table.
func (w *Writer) WriteSubject(r SubjectReport) error {
	if len(r.Mappings) > 0 {
		path := filepath.Join(w.Dir, r.Subject+"_pmid_to_pmcid.csv")
		if err := writeCSVFile(path, func(cw *csv.Writer) error {
			return writeMappings(cw, r.Mappings)
		}); err != nil {
			return err
		}
	}

	path := filepath.Join(w.Dir, r.Subject+"_outcomes.csv")
	return writeCSVFile(path, func(cw *csv.Writer) error {
		return writeOutcomes(cw, []SubjectReport{r})
	})
}

// WriteAggregate writes one row per identifier across all subjects.
func (w *Writer) WriteAggregate(reports []SubjectReport) error {
	path := filepath.Join(w.Dir, "outcomes.csv")
	return writeCSVFile(path, func(cw *csv.Writer) error {
		return writeOutcomes(cw, reports)
	})
}

func writeCSVFile(path string, fill func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := fill(cw); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeMappings(cw *csv.Writer, mappings []Mapping) error {
	if err := cw.Write([]string{"pmid", "pmcid", "error"}); err != nil {
		return err
	}
	for _, m := range mappings {
		if err := cw.Write([]string{m.PMID, m.PMCID, m.Err}); err != nil {
			return err
		}
	}
	return nil
}

func writeOutcomes(cw *csv.Writer, reports []SubjectReport) error {
	if err := cw.Write([]string{"subject", "id", "persisted", "error"}); err != nil {
		return err
	}
	for _, r := range reports {
		if r.Err != "" {
			if err := cw.Write([]string{r.Subject, "", "false", r.Err}); err != nil {
				return err
			}
			continue
		}
		if r.NoResults {
			// Explicit marker row so a zero-result subject is visible in
			// the table rather than silently absent.
			if err := cw.Write([]string{r.Subject, "", "false", "no results"}); err != nil {
				return err
			}
			continue
		}
		for _, o := range r.Outcomes {
			if err := cw.Write([]string{r.Subject, o.ID, strconv.FormatBool(o.Persisted), o.Err}); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteOutcomes streams the aggregate table to an arbitrary writer, for
// callers that want the report on stdout instead of a file.
func WriteOutcomes(out io.Writer, reports []SubjectReport) error {
	cw := csv.NewWriter(out)
	if err := writeOutcomes(cw, reports); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
