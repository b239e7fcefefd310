package core

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"labos/internal/artifact"
	"labos/pkg/domain"
)

// VerifyAudit replays the audit chain and reports the first break per
// day. Day narrows the check to one YYYY-MM-DD file; empty verifies every
// day on disk.
func (s *Service) VerifyAudit(ctx context.Context, day string) ([]VerificationResult, error) {
	verifier, ok := s.audit.(ChainVerifier)
	if !ok {
		return nil, domain.ConfigurationError{Key: "audit", Reason: "recorder does not support chain verification"}
	}
	if day == "" {
		return verifier.VerifyAll(ctx)
	}
	result, err := verifier.Verify(ctx, day)
	if err != nil {
		return nil, err
	}
	return []VerificationResult{result}, nil
}

// AuditTail returns the newest limit chain events, oldest first. Recorders
// without read-back support yield nothing.
func (s *Service) AuditTail(ctx context.Context, limit int) ([]AuditEvent, error) {
	lister, ok := s.audit.(EventLister)
	if !ok {
		return nil, nil
	}
	return lister.Tail(ctx, limit)
}

// ProvenanceSummary aggregates the audit trail touching one dataset.
type ProvenanceSummary struct {
	DatasetID   string       `json:"dataset_id"`
	Dataset     DatasetRef   `json:"dataset"`
	Events      []AuditEvent `json:"events,omitempty"`
	JobIDs      []string     `json:"job_ids,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Provenance returns every chain event referencing the dataset plus the
// jobs that consumed or produced it.
func (s *Service) Provenance(ctx context.Context, datasetID string) (ProvenanceSummary, error) {
	ds, ok := s.store.GetDataset(datasetID)
	if !ok {
		return ProvenanceSummary{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
	}
	summary := ProvenanceSummary{DatasetID: datasetID, Dataset: ds, GeneratedAt: s.now()}
	if lister, ok := s.audit.(EventLister); ok {
		events, err := lister.AllEvents(ctx)
		if err != nil {
			return ProvenanceSummary{}, err
		}
		for _, event := range events {
			if id, _ := event.Payload["dataset_id"].(string); id == datasetID {
				summary.Events = append(summary.Events, event)
			}
		}
	}
	for _, job := range s.store.ListJobs() {
		if slices.Contains(job.DatasetsIn, datasetID) || slices.Contains(job.DatasetsOut, datasetID) {
			summary.JobIDs = append(summary.JobIDs, job.ID)
		}
	}
	sort.Strings(summary.JobIDs)
	return summary, nil
}

// SignatureRecord is the stub e-signature envelope kept by sign-off
// flows. It records intent, not cryptographic identity.
type SignatureRecord struct {
	ID          string    `json:"id"`
	Signer      string    `json:"signer"`
	Intent      string    `json:"intent"`
	Evidence    string    `json:"evidence,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
}

// RecordSignature mints a SIG- identifier, persists the envelope to the
// artifact store when one is attached, and appends the chain event.
func (s *Service) RecordSignature(ctx context.Context, signer, intent, evidence string) (SignatureRecord, error) {
	var record SignatureRecord
	err := s.run(ctx, "record_signature", func(ctx context.Context) error {
		if signer == "" {
			return domain.ValidationError{Field: "signer", Reason: "required"}
		}
		if intent == "" {
			return domain.ValidationError{Field: "intent", Reason: "required"}
		}
		record = SignatureRecord{
			ID:        "SIG-" + strings.SplitN(uuid.NewString(), "-", 2)[0],
			Signer:    signer,
			Intent:    intent,
			Evidence:  evidence,
			CreatedAt: s.now(),
		}
		if s.artifacts != nil {
			body, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			key := path.Join("signatures", record.ID+".json")
			if _, err := s.artifacts.Put(ctx, key, bytes.NewReader(body), artifact.PutOptions{ContentType: "application/json"}); err != nil {
				return err
			}
			record.ArtifactKey = key
		}
		s.recordAudit(ctx, EventSignatureRecorded, signer, map[string]any{
			"signature_id": record.ID,
			"intent":       intent,
		})
		return nil
	})
	if err != nil {
		return SignatureRecord{}, err
	}
	return record, nil
}
