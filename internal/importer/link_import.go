package importer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mixforge/mixforge/internal/engine"
	"github.com/mixforge/mixforge/internal/fetcher"
	"github.com/mixforge/mixforge/internal/models"
)

// sniffBytes is how much of the payload is read for content-type detection
const sniffBytes = 3072

// runLinkImport performs one attempt of a link-import job. A fresh job goes
// through enumeration first; a retried job resumes from its persisted item
// list, skipping items that already succeeded.
func (o *Orchestrator) runLinkImport(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return engine.Recoverablef("failed to load job: %v", err)
	}

	session := &fetcher.Session{BaseURL: job.SourceURL}

	if len(job.Items) == 0 {
		manifest, err := o.enumerate(ctx, job)
		if err != nil {
			return err
		}
		session = &manifest.Session
		job.Items = manifest.Files
	} else if pendingNeedsSession(job.Items) {
		// Page sessions do not survive restarts; refresh before resuming
		manifest, err := o.fetcher.EnumeratePage(ctx, job.SourceURL)
		if err != nil {
			return engine.Recoverablef("failed to refresh source session: %v", err)
		}
		session = &manifest.Session
	}

	if err := o.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
		j.Transition(models.JobStatusImporting)
		return nil
	}); err != nil {
		return engine.Recoverable(err)
	}

	if err := o.importItems(ctx, job, session); err != nil {
		return err
	}

	return o.completeJob(ctx, job, "import.completed")
}

// enumerate runs the analysis phase: load the share page, extract the file
// list, enforce the batch size cap, and persist the items.
func (o *Orchestrator) enumerate(ctx context.Context, job *models.Job) (*fetcher.PageManifest, error) {
	if err := o.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Transition(models.JobStatusAnalyzing)
		j.SetProgress(0, 0, "", "enumerating")
		return nil
	}); err != nil {
		return nil, engine.Recoverable(err)
	}

	manifest, err := o.fetcher.EnumeratePage(ctx, job.SourceURL)
	if err != nil {
		return nil, engine.Recoverablef("failed to enumerate source: %v", err)
	}
	if len(manifest.Files) == 0 {
		return nil, engine.Permanent(errors.New("no importable files found at source"))
	}
	if o.config.MaxBatchBytes > 0 && manifest.TotalDeclared > o.config.MaxBatchBytes {
		return nil, engine.Permanentf("declared batch size %d exceeds the %d byte limit",
			manifest.TotalDeclared, o.config.MaxBatchBytes)
	}

	if err := o.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Items = manifest.Files
		j.SetProgress(0, len(manifest.Files), "", "enumerated")
		return nil
	}); err != nil {
		return nil, engine.Recoverable(err)
	}
	return manifest, nil
}

// importItems walks the item list sequentially. A single item failing is a
// per-item outcome, not an attempt failure; only context cancellation aborts
// the attempt. Progress is persisted before each download so observers see
// the current item while it transfers.
func (o *Orchestrator) importItems(ctx context.Context, job *models.Job, session *fetcher.Session) error {
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

		if err := o.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
			j.SetProgress(processed, total, item.Name, "downloading")
			return nil
		}); err != nil {
			return engine.Recoverable(err)
		}

		directURL := item.DirectURL
		if directURL == "" {
			var err error
			directURL, err = o.fetcher.ResolveDirectLink(ctx, session, item.Strategies)
			if errors.Is(err, fetcher.ErrNoDirectLink) {
				processed++
				if err := o.recordPlaceholder(ctx, job, i); err != nil {
					return engine.Recoverable(err)
				}
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return engine.Recoverable(ctx.Err())
				}
				processed++
				if err := o.recordItemFailure(ctx, job.ID, i, err); err != nil {
					return engine.Recoverable(err)
				}
				continue
			}
		}

		imported, err := o.importOne(ctx, job, item, directURL)
		if err != nil {
			if ctx.Err() != nil {
				return engine.Recoverable(ctx.Err())
			}
			processed++
			if err := o.recordItemFailure(ctx, job.ID, i, err); err != nil {
				return engine.Recoverable(err)
			}
			continue
		}

		processed++
		item.Outcome = models.ItemSucceeded
		if err := o.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
			j.Items[i].Outcome = models.ItemSucceeded
			j.Imported = append(j.Imported, *imported)
			j.SetProgress(processed, total, item.Name, "stored")
			return nil
		}); err != nil {
			return engine.Recoverable(err)
		}
	}
	return nil
}

// importOne downloads a single file, sniffs its type, stores it under the
// owner prefix, and analyzes it when it turns out to be audio.
func (o *Orchestrator) importOne(ctx context.Context, job *models.Job, item *models.BatchItem, directURL string) (*models.ImportedFile, error) {
	local, err := o.fetcher.Fetch(ctx, directURL, fetcher.ModeAuto)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer local.Cleanup()

	head, err := local.Head(sniffBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	detected := mimetype.Detect(head)

	mime := item.MimeType
	if mime == "" {
		mime = detected.String()
	}

	storagePath := path.Join(job.Owner.StoragePrefix(), sanitizeFileName(item.Name))
	reader, err := local.Open()
	if err != nil {
		return nil, err
	}
	size, err := o.objects.Put(ctx, storagePath, reader)
	reader.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	imported := &models.ImportedFile{
		Name:        item.Name,
		StoragePath: storagePath,
		MimeType:    mime,
		Size:        size,
	}

	if isAudio(detected, mime) {
		source := models.AudioSource{
			Name:      item.Name,
			URL:       directURL,
			Path:      local.Path,
			SizeBytes: size,
			Ext:       fileExt(item.Name),
		}
		result := o.analyzer.Analyze(ctx, source)
		imported.Duration = result.Duration
		if err := o.storeWaveform(ctx, storagePath, &result); err != nil {
			// The track itself is stored; a missing waveform sidecar is
			// not worth failing the item over
			o.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("file", item.Name).
				Msg("Failed to store waveform sidecar")
		}
	}

	return imported, nil
}

// recordPlaceholder stores a note artifact for a file whose link could not
// be resolved by any strategy. The item counts as skipped, not failed.
func (o *Orchestrator) recordPlaceholder(ctx context.Context, job *models.Job, index int) error {
	item := &job.Items[index]
	name := sanitizeFileName(item.Name) + ".unavailable.txt"
	storagePath := path.Join(job.Owner.StoragePrefix(), name)

	note := fmt.Sprintf("The file %q could not be retrieved automatically from the source link.\nPlease download it manually and upload it here.\n", item.Name)
	if _, err := o.objects.Put(ctx, storagePath, strings.NewReader(note)); err != nil {
		return fmt.Errorf("failed to store placeholder: %w", err)
	}

	item.Outcome = models.ItemSkipped
	o.logger.Info().
		Str("job_id", job.ID).
		Str("file", item.Name).
		Msg("No direct link resolved, placeholder recorded")

	return o.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Items[index].Outcome = models.ItemSkipped
		j.Imported = append(j.Imported, models.ImportedFile{
			Name:        item.Name,
			StoragePath: storagePath,
			MimeType:    "text/plain",
			Size:        int64(len(note)),
			Placeholder: true,
		})
		j.SetProgress(j.Progress.Completed+1, len(j.Items), item.Name, "placeholder")
		return nil
	})
}

// recordItemFailure marks the item failed and keeps a bounded error sample
func (o *Orchestrator) recordItemFailure(ctx context.Context, jobID string, index int, cause error) error {
	o.logger.Warn().
		Err(cause).
		Str("job_id", jobID).
		Int("item", index).
		Msg("Batch item failed")

	return o.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
		item := &j.Items[index]
		item.Outcome = models.ItemFailed
		item.Error = cause.Error()
		j.AppendFileError(index, item.Name, cause.Error())
		j.SetProgress(j.Progress.Completed+1, len(j.Items), item.Name, "failed")
		return nil
	})
}

// completeJob moves the job to completed and notifies the owner. Partial
// failures still complete; the per-item outcomes carry the detail.
func (o *Orchestrator) completeJob(ctx context.Context, job *models.Job, templateKey string) error {
	var imported, failed int
	var userID string
	if err := o.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Transition(models.JobStatusCompleted)
		j.SetProgress(len(j.Items), len(j.Items), "", "done")
		userID = j.UserID
		imported = len(j.Imported)
		failed = len(j.FileErrors)
		return nil
	}); err != nil {
		return engine.Recoverable(err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Int("imported", imported).
		Int("failed", failed).
		Msg("Batch job completed")

	if userID != "" {
		o.notifier.Notify(userID, templateKey, map[string]interface{}{
			"job_id":   job.ID,
			"imported": imported,
			"failed":   failed,
		})
	}
	return nil
}

func pendingNeedsSession(items []models.BatchItem) bool {
	for _, item := range items {
		if item.Outcome == models.ItemPending && item.DirectURL == "" && len(item.Strategies) > 0 {
			return true
		}
	}
	return false
}

func isAudio(detected *mimetype.MIME, declared string) bool {
	if strings.HasPrefix(detected.String(), "audio/") {
		return true
	}
	return strings.HasPrefix(declared, "audio/")
}

func fileExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	return strings.TrimPrefix(ext, ".")
}

// sanitizeFileName strips directory components and characters that are not
// safe in object-store keys
func sanitizeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch r {
		case ':', '*', '?', '"', '<', '>', '|', '\x00':
			return '_'
		}
		return r
	}, base)
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." {
		return "unnamed"
	}
	return base
}
