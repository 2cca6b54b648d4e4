package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/repos"
	"github.com/montignypatrik/facnet-validator-sub009/internal/types"
)

var (
	ErrJobNotCompleted      = errors.New("job is not completed")
	ErrNoEligibleCandidates = errors.New("no eligible candidates to export")
)

// exportColumns is the fixed downstream billing schema. The claims system
// imports by position, not by header: column order and count are part of
// the contract, and unused columns must be present as empty strings.
var exportColumns = []string{
	"#",
	"Facture",
	"ID RAMQ",
	"Date de Service",
	"NAM",
	"Début",
	"Fin",
	"Periode",
	"Lieu de pratique",
	"Secteur d'activité",
	"Diagnostic",
	"Code",
	"Unités",
	"Rôle",
	"Élement de contexte",
	"Montant Preliminaire",
	"Montant payé",
	"Médecin",
	"Patient",
	"Référé par",
	"Date de création",
	"Date de modification",
	"Note",
	"Statut",
	"Agence",
	"Commentaires",
}

const (
	colDateDeService = 3
	colNAM           = 4
	colDebut         = 5
)

// ExportResult is the rendered payload; it is never persisted.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
	RowCount    int
}

// ExportService renders curated candidates of a completed job into the
// downstream billing CSV and marks them export-included (append-only; a
// later export never clears flags set by an earlier one).
type ExportService interface {
	Generate(ctx context.Context, jobID uuid.UUID, includeInvalid bool) (*ExportResult, error)
}

type exportService struct {
	log        *logger.Logger
	jobs       repos.ExtractionJobRepo
	candidates repos.NAMCandidateRepo
}

func NewExportService(baseLog *logger.Logger, jobs repos.ExtractionJobRepo, candidates repos.NAMCandidateRepo) ExportService {
	return &exportService{
		log:        baseLog.With("service", "ExportService"),
		jobs:       jobs,
		candidates: candidates,
	}
}

func (s *exportService) Generate(ctx context.Context, jobID uuid.UUID, includeInvalid bool) (*ExportResult, error) {
	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status is %q", ErrJobNotCompleted, job.Status)
	}

	all, err := s.candidates.ListByJobID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}

	eligible := make([]*types.NAMCandidate, 0, len(all))
	for _, c := range all {
		if c.Excluded {
			continue
		}
		if !c.FormatValid && !includeInvalid {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleCandidates
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportColumns); err != nil {
		return nil, err
	}
	for _, c := range eligible {
		row := make([]string, len(exportColumns))
		if c.VisitDate != nil {
			row[colDateDeService] = *c.VisitDate
		}
		row[colNAM] = c.Token
		row[colDebut] = c.VisitTime
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(eligible))
	for i, c := range eligible {
		ids[i] = c.ID
	}
	if err := s.candidates.MarkExportIncluded(ctx, nil, jobID, ids); err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("nam-export-%s-%s.csv", jobID.String()[:8], time.Now().Format("20060102-150405"))
	s.log.Info("Export generated", "job_id", jobID, "rows", len(eligible), "include_invalid", includeInvalid, "filename", filename)
	return &ExportResult{
		Filename:    filename,
		ContentType: "text/csv; charset=utf-8",
		Payload:     buf.Bytes(),
		RowCount:    len(eligible),
	}, nil
}
