package core

type (
	// Logger logs messages with optional context args: errors, maps, or the acting Session.
	Logger interface {
		Debug(msg string, args ...interface{})
		Info(msg string, args ...interface{})
		Warn(msg string, args ...interface{})
		Error(msg string, args ...interface{})
		Fatal(msg string, args ...interface{})
	}

	// Metrics records domain counters.
	Metrics interface {
		CacheLookup(view string, hit bool)
		DegradedRead(view string)
		GroupTransition(from, to string)
		EmailsDispatched(sent, failed int)
	}
)

type nopMetrics struct{}

func (nopMetrics) CacheLookup(string, bool)       {}
func (nopMetrics) DegradedRead(string)            {}
func (nopMetrics) GroupTransition(string, string) {}
func (nopMetrics) EmailsDispatched(int, int)      {}

// NopMetrics discards everything.
var NopMetrics Metrics = nopMetrics{}
