package index

// NopProgressListener ignores all progress events
type NopProgressListener struct{}

func (NopProgressListener) OnBegin(int64)         {}
func (NopProgressListener) OnProgress(int64, int) {}
func (NopProgressListener) OnCompletion(bool)     {}

// LogProgressListener logs the progress of a rebuild in steps of ten percent
type LogProgressListener struct {
	Index string
	last  int
}

func (l *LogProgressListener) OnBegin(total int64) {
	l.last = 0
	log.Infof("rebuilding index %q: %d records to scan", l.Index, total)
}

func (l *LogProgressListener) OnProgress(scanned int64, percent int) {
	if percent/10 > l.last/10 {
		log.Infof("rebuilding index %q: %d%% (%d records)", l.Index, percent, scanned)
	}
	l.last = percent
}

func (l *LogProgressListener) OnCompletion(success bool) {
	if success {
		log.Infof("rebuilding index %q: done", l.Index)
	} else {
		log.Warningf("rebuilding index %q: failed", l.Index)
	}
}
