package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gyrofusion/internal/replay"
)

type logSummary struct {
	Segments    int
	Samples     int
	MagSamples  int
	MaxDuration time.Duration
	// MeanRateHz is the mean sample rate from the gaps inside each segment.
	MeanRateHz float64
}

func summarizeSampleLog(records []replay.Record) logSummary {
	var s logSummary
	var total time.Duration
	var segDur time.Duration
	intervals, segSamples := 0, 0
	inSegment := false
	closeSegment := func() {
		total += segDur
		if segSamples > 1 {
			intervals += segSamples - 1
		}
	}

	for _, r := range records {
		if r.Start {
			if inSegment {
				closeSegment()
			}
			s.Segments++
			segDur, segSamples = 0, 0
			inSegment = true
			continue
		}
		if !inSegment {
			// Samples before any START form an implicit first segment.
			s.Segments++
			inSegment = true
		}
		s.Samples++
		segSamples++
		if r.Sample.MagValid {
			s.MagSamples++
		}
		if r.At > segDur {
			segDur = r.At
		}
		if r.At > s.MaxDuration {
			s.MaxDuration = r.At
		}
	}
	if inSegment {
		closeSegment()
	}
	if s.Samples == 0 {
		s.Segments = 0
	}
	if total > 0 {
		s.MeanRateHz = float64(intervals) / total.Seconds()
	}
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeSampleLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "samples: %d\n", s.Samples)
	fmt.Fprintf(w, "mag_samples: %d\n", s.MagSamples)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "mean_rate_hz: %.1f\n", s.MeanRateHz)
	return nil
}
