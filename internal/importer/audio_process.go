package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mixforge/mixforge/internal/engine"
	"github.com/mixforge/mixforge/internal/models"
)

// analysisURLTTL bounds how long the analysis service can read a track
const analysisURLTTL = 15 * time.Minute

// runAudioProcess performs one attempt of an audio-processing job: each
// pending item references an already-stored track that gets waveform data
// generated for it. Resumed attempts skip items already processed.
func (o *Orchestrator) runAudioProcess(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return engine.Recoverablef("failed to load job: %v", err)
	}

	if err := o.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
		j.Transition(models.JobStatusProcessing)
		if j.Progress.Total == 0 {
			j.SetProgress(0, len(j.Items), "", "analyzing")
		}
		return nil
	}); err != nil {
		return engine.Recoverable(err)
	}

	total := len(job.Items)
	processed := 0
	for _, item := range job.Items {
		if item.Outcome != models.ItemPending {
			processed++
		}
	}

	for i := range job.Items {
		item := &job.Items[i]
		if item.Outcome != models.ItemPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return engine.Recoverable(err)
		}

		if err := o.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
			j.SetProgress(processed, total, item.Name, "analyzing")
			return nil
		}); err != nil {
			return engine.Recoverable(err)
		}

		imported, err := o.processTrack(ctx, job, item)
		if err != nil {
			if ctx.Err() != nil {
				return engine.Recoverable(ctx.Err())
			}
			processed++
			if err := o.recordItemFailure(ctx, jobID, i, err); err != nil {
				return engine.Recoverable(err)
			}
			continue
		}

		processed++
		item.Outcome = models.ItemSucceeded
		if err := o.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
			j.Items[i].Outcome = models.ItemSucceeded
			j.Imported = append(j.Imported, *imported)
			j.SetProgress(processed, total, item.Name, "analyzed")
			return nil
		}); err != nil {
			return engine.Recoverable(err)
		}
	}

	return o.completeJob(ctx, job, "processing.completed")
}

// processTrack analyzes one stored track and writes its waveform sidecar
func (o *Orchestrator) processTrack(ctx context.Context, job *models.Job, item *models.BatchItem) (*models.ImportedFile, error) {
	if item.StoragePath == "" {
		return nil, fmt.Errorf("item has no storage path")
	}

	size, err := o.objects.Size(ctx, item.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("stored track unavailable: %w", err)
	}

	// The remote analyzer reads the track through a short-lived URL; when
	// the store cannot mint one, local estimation covers it.
	url, err := o.objects.TemporaryURL(ctx, item.StoragePath, analysisURLTTL)
	if err != nil {
		url = ""
	}

	source := models.AudioSource{
		Name:      item.Name,
		URL:       url,
		SizeBytes: size,
		Ext:       fileExt(item.Name),
	}
	result := o.analyzer.Analyze(ctx, source)

	if err := o.storeWaveform(ctx, item.StoragePath, &result); err != nil {
		return nil, err
	}

	return &models.ImportedFile{
		Name:        item.Name,
		StoragePath: item.StoragePath,
		MimeType:    item.MimeType,
		Size:        size,
		Duration:    result.Duration,
	}, nil
}

// storeWaveform persists the analysis result as a JSON sidecar next to the
// track, at <storage path>.waveform.json
func (o *Orchestrator) storeWaveform(ctx context.Context, storagePath string, result *models.WaveformResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode waveform: %w", err)
	}
	if _, err := o.objects.Put(ctx, storagePath+".waveform.json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store waveform: %w", err)
	}
	return nil
}
