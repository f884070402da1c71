// Package batch runs extraction jobs listed in a YAML file, one after
// another, writing each result to its configured output.
package batch

import (
	"fmt"
	"os"
	"strings"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"gopkg.in/yaml.v3"
)

// File is the top level of a jobs file.
//
//	jobs:
//	  - name: compiler-ama
//	    description: Answers from the compiler team
//	    submission: https://www.reddit.com/r/golang/comments/abc123/
//	    accounts: [alice, bob]
//	    include_deleted: false
//	    output:
//	      format: markdown
//	      file: out/compiler-ama.md
type File struct {
	Jobs []Job `yaml:"jobs"`
}

type Job struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Submission     string   `yaml:"submission"`
	Accounts       []string `yaml:"accounts"`
	IncludeDeleted bool     `yaml:"include_deleted"`
	Output         Output   `yaml:"output"`
}

// Output selects where a job's result goes. An empty File means stdout.
type Output struct {
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Request converts the job into an extraction request.
func (j Job) Request() extraction.Request {
	return extraction.Request{
		SubmissionID:   j.Submission,
		Accounts:       j.Accounts,
		IncludeDeleted: j.IncludeDeleted,
	}
}

// DisplayName falls back to the submission reference for unnamed jobs.
func (j Job) DisplayName() string {
	if strings.TrimSpace(j.Name) != "" {
		return j.Name
	}
	if j.Submission != "" {
		return j.Submission
	}
	return "Unnamed Job"
}

// Load reads and parses a jobs file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}
	return &f, nil
}

// Find returns the job with the given name.
func (f *File) Find(name string) (Job, bool) {
	for _, j := range f.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}
