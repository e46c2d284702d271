// Package jobs runs batches of extractions described in a YAML file and
// appends one JSONL line per page.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/artifact"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/scraper"
	"github.com/use-agent/llmscrape/webhook"
	yaml "gopkg.in/yaml.v3"
)

// File is the job file schema.
//
//	output: results/jobs.jsonl.zst
//	defaults:
//	  fields: [name, location]
//	  scroll: true
//	jobs:
//	  - url: https://example.com/team/jordan
//	    wait: 2s
//	    downloads:
//	      - url: https://example.com/cv.zip
//	        name: jordan-cv.pdf
type File struct {
	// Output is the JSONL file results are appended to, relative to the
	// job file's directory. Default: results.jsonl.
	Output string `yaml:"output"`

	Defaults struct {
		Fields []string      `yaml:"fields"`
		Wait   time.Duration `yaml:"wait"`
		Scroll bool          `yaml:"scroll"`
	} `yaml:"defaults"`

	// Webhook receives a job.result event per page and a run.completed
	// event at the end. The secret may reference environment variables.
	Webhook struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`

	Jobs []Job `yaml:"jobs"`
}

// Job is one page to extract.
type Job struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	Fields    []string      `yaml:"fields"`
	Wait      time.Duration `yaml:"wait"`
	Scroll    *bool         `yaml:"scroll"`
	Downloads []Download    `yaml:"downloads"`
}

// Download is a file fetched alongside a page.
type Download struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// Load reads and validates a job file. Relative outputs resolve against
// the file's directory.
func Load(p string) (*File, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if f.Output == "" {
		f.Output = "results.jsonl"
	}
	if !filepath.IsAbs(f.Output) {
		f.Output = filepath.Join(filepath.Dir(p), f.Output)
	}
	if len(f.Jobs) == 0 {
		return nil, errors.New("job file has no jobs")
	}
	f.Webhook.Secret = os.ExpandEnv(f.Webhook.Secret)
	for i := range f.Jobs {
		if _, err := f.Request(i); err != nil {
			return nil, fmt.Errorf("job %d: %w", i+1, err)
		}
	}
	return &f, nil
}

// Request builds the extraction request for job i with defaults applied.
func (f *File) Request(i int) (*models.ExtractRequest, error) {
	j := f.Jobs[i]
	req := &models.ExtractRequest{
		URL:    j.URL,
		Fields: j.Fields,
		Wait:   j.Wait,
		Scroll: f.Defaults.Scroll,
	}
	if len(req.Fields) == 0 {
		req.Fields = f.Defaults.Fields
	}
	if req.Wait == 0 {
		req.Wait = f.Defaults.Wait
	}
	if j.Scroll != nil {
		req.Scroll = *j.Scroll
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Result is one JSONL line.
type Result struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	URL       string              `json:"url"`
	Data      *models.Record      `json:"data,omitempty"`
	Dropped   []string            `json:"dropped,omitempty"`
	Files     []string            `json:"files,omitempty"`
	Error     *models.ErrorDetail `json:"error,omitempty"`
	ElapsedMs int64               `json:"elapsed_ms"`
	At        time.Time           `json:"at"`
}

// Fetcher saves a remote file to a local path.
type Fetcher interface {
	Download(ctx context.Context, url, path string) (string, error)
}

// Runner executes job files one page at a time.
type Runner struct {
	ex          scraper.Extractor
	fetch       Fetcher
	downloadDir string
	log         zerolog.Logger
}

// NewRunner returns a Runner. fetch may be nil when no job downloads files.
func NewRunner(ex scraper.Extractor, fetch Fetcher, downloadDir string, log zerolog.Logger) *Runner {
	return &Runner{ex: ex, fetch: fetch, downloadDir: downloadDir, log: log}
}

// Summary counts a run's outcomes.
type Summary struct {
	RunID     string `json:"run_id"`
	Output    string `json:"output"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Run extracts every job in order and appends each result to f.Output as
// soon as it is known, so an interrupted run keeps what it finished. A
// failed job is recorded and the run moves on; only ctx cancellation or an
// output write error stops it.
func (r *Runner) Run(ctx context.Context, f *File) (Summary, error) {
	sum := Summary{RunID: artifact.NewID(), Output: f.Output}
	notify := webhook.New(f.Webhook.URL, f.Webhook.Secret, r.log)

	for i, job := range f.Jobs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res := r.runOne(ctx, f, i)
		if res.Error != nil {
			sum.Failed++
		} else {
			sum.Succeeded++
		}
		if err := artifact.SaveJSONL(f.Output, []Result{res}, true); err != nil {
			return sum, fmt.Errorf("write result: %w", err)
		}
		r.log.Info().
			Int("job", i+1).
			Int("of", len(f.Jobs)).
			Str("url", job.URL).
			Bool("ok", res.Error == nil).
			Msg("job done")
		r.emit(ctx, notify, sum.RunID, webhook.JobResult, res)
	}
	r.emit(ctx, notify, sum.RunID, webhook.RunCompleted, sum)
	return sum, nil
}

// emit delivers an event; a failed delivery is logged by the notifier and
// never fails the run.
func (r *Runner) emit(ctx context.Context, n *webhook.Notifier, runID, typ string, data any) {
	_ = n.Deliver(ctx, &webhook.Event{
		Type:      typ,
		RunID:     runID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
}

func (r *Runner) runOne(ctx context.Context, f *File, i int) Result {
	start := time.Now()
	job := f.Jobs[i]
	res := Result{ID: artifact.NewID(), Name: job.Name, URL: job.URL, At: start.UTC()}

	fail := func(err error) Result {
		var se *models.ScrapeError
		if !errors.As(err, &se) {
			se = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
		}
		res.Error = se.ToDetail()
		res.ElapsedMs = time.Since(start).Milliseconds()
		r.log.Warn().Err(err).Str("url", job.URL).Msg("job failed")
		return res
	}

	req, err := f.Request(i)
	if err != nil {
		return fail(err)
	}
	out, err := r.ex.Scrape(ctx, req)
	if err != nil {
		return fail(err)
	}
	res.Data = out.Data
	res.Dropped = out.Dropped

	for _, d := range job.Downloads {
		if r.fetch == nil {
			return fail(models.NewScrapeError(models.ErrCodeInvalidInput, "downloads are not enabled", nil))
		}
		saved, err := r.fetch.Download(ctx, d.URL, r.downloadPath(job, d))
		if err != nil {
			return fail(models.NewScrapeError(models.ErrCodeNavigation, "download "+d.URL+" failed", err))
		}
		res.Files = append(res.Files, saved)
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

// downloadPath groups a job's files under a directory named after the job,
// or after the page URL's digest when the job has no name.
func (r *Runner) downloadPath(job Job, d Download) string {
	dir := artifact.URLDigest(job.URL)
	if job.Name != "" {
		dir = artifact.SafeName(job.Name)
	}
	name := d.Name
	if name == "" {
		name = path.Base(d.URL)
		if u, err := url.Parse(d.URL); err == nil {
			name = path.Base(u.Path)
		}
		if name == "." || name == "/" || name == "" {
			name = artifact.URLDigest(d.URL)
		}
		// An archive is unpacked to its first file, so drop the extension.
		if ext := path.Ext(name); ext == ".zip" || ext == ".ZIP" {
			name = name[:len(name)-len(ext)]
		}
	}
	return filepath.Join(r.downloadDir, dir, artifact.SafeName(name))
}
