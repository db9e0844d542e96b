package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/archive"
	"github.com/tanq16/streamup/internal/extractor"
	"github.com/tanq16/streamup/internal/output"
	"github.com/tanq16/streamup/internal/recorder"
	"github.com/tanq16/streamup/internal/utils"
)

// Archiver receives every finished recording of a job.
type Archiver interface {
	Upload(ctx context.Context, streamer, localPath string) (string, error)
}

type ArchiverFactory func(ctx context.Context, target string) (Archiver, error)

func s3Archiver(ctx context.Context, target string) (Archiver, error) {
	return archive.NewS3Archive(ctx, target, "")
}

type Scheduler struct {
	registry   *extractor.Registry
	workers    int
	newArchive ArchiverFactory
	display    bool
	outputMgr  *output.Manager
}

type Option func(*Scheduler)

func WithArchiver(factory ArchiverFactory) Option {
	return func(s *Scheduler) { s.newArchive = factory }
}

// WithoutDisplay keeps task state in the manager but never draws it.
func WithoutDisplay() Option {
	return func(s *Scheduler) { s.display = false }
}

func New(registry *extractor.Registry, workers int, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:   registry,
		workers:    max(workers, 1),
		newArchive: s3Archiver,
		display:    !utils.GlobalDebugFlag,
		outputMgr:  output.NewManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Manager() *output.Manager {
	return s.outputMgr
}

// Run records every job with a pool of workers. Offline rooms are reported
// as warnings; every other failure is collected into the returned error.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.StreamJob) error {
	if s.display {
		s.outputMgr.StartDisplay()
		defer s.outputMgr.StopDisplay()
	}
	jobCh := make(chan utils.StreamJob, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var mu sync.Mutex
	var result *multierror.Error
	var wg sync.WaitGroup
	for range min(s.workers, max(len(jobs), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := s.processJob(ctx, job); err != nil {
					mu.Lock()
					result = multierror.Append(result, fmt.Errorf("%s (%s): %w", job.Name, job.URL, err))
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return result.ErrorOrNil()
}

func (s *Scheduler) processJob(ctx context.Context, job utils.StreamJob) error {
	taskID := s.outputMgr.Register(job.Name)
	if ctx.Err() != nil {
		s.outputMgr.ReportError(taskID, ctx.Err())
		return ctx.Err()
	}
	log.Debug().Str("op", "scheduler/job").Str("job", job.ID).Msgf("Resolving %s", job.URL)
	s.outputMgr.SetMessage(taskID, "Resolving "+job.URL)

	client := utils.NewHTTPClient(job.HTTPClientConfig)
	site, err := s.registry.Resolve(ctx, job.URL, client)
	if errors.Is(err, extractor.ErrOffline) {
		s.outputMgr.Warn(taskID, "Room is offline")
		log.Info().Str("op", "scheduler/job").Str("job", job.ID).Msgf("%s is offline", job.Name)
		return nil
	}
	if err != nil {
		s.outputMgr.ReportError(taskID, err)
		return err
	}

	var archiver Archiver
	if job.Archive != "" {
		archiver, err = s.newArchive(ctx, job.Archive)
		if err != nil {
			s.outputMgr.ReportError(taskID, err)
			return err
		}
	}

	file := recorder.NewLifecycleFile(filepath.Join(job.OutputDir, job.Name), job.Template)
	finished := make(chan string, 16)
	var archiveErr *multierror.Error
	archived := make(chan struct{})
	go func() {
		defer close(archived)
		for path := range finished {
			s.outputMgr.AddFile(taskID, path)
			if archiver == nil {
				continue
			}
			s.outputMgr.AddStreamLine(taskID, "Archiving "+filepath.Base(path))
			// finished files are archived even when recording was interrupted
			if _, err := archiver.Upload(context.WithoutCancel(ctx), job.Name, path); err != nil {
				archiveErr = multierror.Append(archiveErr, err)
			}
		}
	}()
	file.OnClose(func(path string) {
		s.outputMgr.AddStreamLine(taskID, "Finished "+filepath.Base(path))
		finished <- path
	})

	s.outputMgr.SetMessage(taskID, fmt.Sprintf("Recording %q from %s", site.Title, site.Name))
	err = site.Download(ctx, file, recorder.Segmentable{Duration: job.SegmentTime, Size: job.SegmentSize})
	close(finished)
	<-archived
	if errors.Is(err, context.Canceled) && len(file.Files()) > 0 {
		log.Info().Str("op", "scheduler/job").Str("job", job.ID).Msg("Recording interrupted, keeping finished files")
		err = nil
	}
	if err == nil {
		err = archiveErr.ErrorOrNil()
	}
	if err != nil {
		s.outputMgr.ReportError(taskID, err)
		return err
	}
	s.outputMgr.Complete(taskID, fmt.Sprintf("Recorded %d file(s) of %q", len(file.Files()), site.Title))
	return nil
}
