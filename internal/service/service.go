package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/pkg/file"
	"github.com/MimeLyc/contextual-book-translator/pkg/icron"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// initialLookback bounds the first scan when the schedule fires often.
const initialLookback = 7 * 24 * time.Hour

var sourceExts = []string{".md", ".epub"}

// WatchService translates new books dropped into a directory on a cron
// schedule.
type WatchService struct {
	dir        string
	cronExpr   string
	targetTag  string
	translator FileTranslator
	cron       *cron.Cron

	group          singleflight.Group
	mu             sync.Mutex
	lastTrigerTime time.Time
	now            func() time.Time
}

func NewWatchService(cfg config.Config, t FileTranslator, c *cron.Cron) (*WatchService, error) {
	if cfg.Watch.Dir == "" {
		return nil, fmt.Errorf("watch directory is not configured")
	}
	if c == nil {
		c = icron.New()
	}
	return &WatchService{
		dir:        cfg.Watch.Dir,
		cronExpr:   cfg.Watch.CronExpr,
		targetTag:  cfg.Translate.TargetLanguage.String(),
		translator: t,
		cron:       c,
		now:        time.Now,
	}, nil
}

// Schedule registers the scan with the cron. Ticks that fire while a scan is
// still running share its result instead of starting another one.
func (s *WatchService) Schedule(ctx context.Context) error {
	log.Info("Watching %s with schedule %q", s.dir, s.cronExpr)

	_, err := s.cron.AddFunc(s.cronExpr, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error("Failed to scan %s: %v", s.dir, err)
		}
	})
	return err
}

// RunOnce scans the directory and translates every pending book. It returns
// the reports of the files it processed.
func (s *WatchService) RunOnce(ctx context.Context) ([]*Report, error) {
	v, err, shared := s.group.Do("scan", func() (any, error) {
		return s.run(ctx)
	})
	if shared {
		log.Debug("Joined an in-flight scan of %s", s.dir)
	}
	reports, _ := v.([]*Report)
	return reports, err
}

func (s *WatchService) run(ctx context.Context) ([]*Report, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("directory %s does not exist", s.dir)
	}

	startTime, err := s.startTime()
	if err != nil {
		return nil, fmt.Errorf("failed to get start time: %w", err)
	}
	scanTime := s.now()
	log.Info("Searching %s for books modified after %v", s.dir, startTime)

	pending, err := s.findPending(startTime)
	if err != nil {
		return nil, err
	}
	log.Info("Found %d books to translate in %s", len(pending), s.dir)

	var reports []*Report
	for _, input := range pending {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.translator.TranslateFile(ctx, input, "")
		if err != nil {
			if IsEmptyDocument(err) {
				log.Warn("Skipping empty book %s", input)
				continue
			}
			log.Error("Failed to translate %s: %v", input, err)
			if report != nil {
				reports = append(reports, report)
			}
			continue
		}
		reports = append(reports, report)
	}

	s.mu.Lock()
	s.lastTrigerTime = scanTime
	s.mu.Unlock()
	return reports, nil
}

// findPending lists sources modified after startTime that are not
// translations themselves and have no translation yet. An EPUB whose
// converted Markdown is also present is translated once, through the EPUB.
func (s *WatchService) findPending(startTime time.Time) ([]string, error) {
	recent, err := file.FindRecentAfter(s.dir, startTime, sourceExts...)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent files: %w", err)
	}

	books := make(map[string]bool, len(recent))
	for _, p := range recent {
		if strings.EqualFold(filepath.Ext(p), ".epub") {
			books[file.ReplaceExt(p, "")] = true
		}
	}

	var pending []string
	for _, p := range recent {
		if file.IsTranslated(p, s.targetTag) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(p), ".epub") && books[file.ReplaceExt(p, "")] {
			continue
		}
		if file.Exists(s.translator.OutputPath(p)) {
			log.Debug("Translation of %s already exists", p)
			continue
		}
		pending = append(pending, p)
	}
	return pending, nil
}

func (s *WatchService) startTime() (time.Time, error) {
	s.mu.Lock()
	last := s.lastTrigerTime
	s.mu.Unlock()
	if !last.IsZero() {
		return last, nil
	}

	now := s.now()
	cronSchedule, err := icron.GetTriggerInfo(s.cronExpr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get cron schedule: %w", err)
	}

	if now.Add(-24 * time.Hour).Before(cronSchedule.Last) {
		return now.Add(-initialLookback), nil
	}
	return cronSchedule.Last, nil
}
