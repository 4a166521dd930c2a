package models

import (
	"encoding/json"
	"fmt"
)

// Reason categories assigned to tabular exclude lists.
const (
	ReasonGhostScatter = "Ghost/Scatter"
	ReasonStreak       = "Streak"
	ReasonNoise        = "Noise"
	ReasonReadout      = "Readout"
	ReasonBadCCD       = "Bad CCD"
	ReasonProcessing   = "Processing"
	ReasonComet        = "Comet"
	ReasonUnknown      = "Unknown"
)

// Layout tells the parser how an input file is organised.
type Layout int

const (
	// LayoutTable files carry a header naming at least expnum and ccdnum.
	LayoutTable Layout = iota
	// LayoutProblem files list whole exposures as Nite, Exposure, Problem.
	LayoutProblem
)

func (l Layout) String() string {
	switch l {
	case LayoutProblem:
		return "problem"
	default:
		return "table"
	}
}

// ExclusionRecord marks one detector of one exposure as unusable.
type ExclusionRecord struct {
	ExpNum  int32  `json:"expnum"`
	CCDNum  int16  `json:"ccdnum"`
	Reason  string `json:"reason"`
	Analyst string `json:"analyst"`
}

// FileInfo is an input file after discovery and classification.
type FileInfo struct {
	Path     string
	Checksum string
	Layout   Layout
	// Reason is empty for problem files, whose rows carry their own reason.
	Reason string
}

// ReasonCount is the number of records carrying one reason.
type ReasonCount struct {
	Reason string
	Count  int
}

// AppError is a recoverable problem with one input row, located by file and line.
type AppError struct {
	File    string
	Line    int
	Message string
	Err     error
	Fields  []string
}

func (e *AppError) Error() string {
	var rowDetails string
	if len(e.Fields) > 0 {
		rowJSON, err := json.Marshal(e.Fields)
		if err != nil {
			rowDetails = "failed to marshal row to JSON"
		} else {
			rowDetails = string(rowJSON)
		}
	}

	location := e.File
	if e.Line > 0 {
		location = fmt.Sprintf("%s:%d", e.File, e.Line)
	}

	if e.Err != nil {
		if rowDetails != "" {
			return fmt.Sprintf("%s: %s - %v - Row: %s", location, e.Message, e.Err, rowDetails)
		}
		return fmt.Sprintf("%s: %s - %v", location, e.Message, e.Err)
	}

	if rowDetails != "" {
		return fmt.Sprintf("%s: %s - Row: %s", location, e.Message, rowDetails)
	}

	return fmt.Sprintf("%s: %s", location, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// FileErrorMap collects recoverable errors keyed by input path.
type FileErrorMap struct {
	Errors map[string][]AppError
}

// NewFileErrorMap returns an empty FileErrorMap.
func NewFileErrorMap() *FileErrorMap {
	return &FileErrorMap{Errors: make(map[string][]AppError)}
}

func (m *FileErrorMap) Add(appErr AppError) {
	m.Errors[appErr.File] = append(m.Errors[appErr.File], appErr)
}

func (m *FileErrorMap) Total() int {
	total := 0
	for _, errs := range m.Errors {
		total += len(errs)
	}
	return total
}
