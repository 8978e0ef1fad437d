package app

import "time"

// Metrics счётчики, которые обновляют сервисы приложения
type Metrics interface {
	JobStarted()
	JobFinished(mode, status string, duration time.Duration)
	RecordAnalysis(shape string)
	RecordPoll()
	RecordDownload(kind string, err error)
	RecordOutfit(category string, valid bool)
}

type nopMetrics struct{}

func (nopMetrics) JobStarted()                               {}
func (nopMetrics) JobFinished(string, string, time.Duration) {}
func (nopMetrics) RecordAnalysis(string)                     {}
func (nopMetrics) RecordPoll()                               {}
func (nopMetrics) RecordDownload(string, error)              {}
func (nopMetrics) RecordOutfit(string, bool)                 {}
