package metrics

import (
	"strings"

	"kettle/internal/engine"
)

// Reporter forwards the final status of every step copy to the installed
// backend. It implements engine.Reporter.
type Reporter struct{}

// ReportStep implements engine.Reporter.
func (Reporter) ReportStep(trans string, st engine.StepStatus) {
	RecordStep(trans, st.Step, strings.ToLower(st.State.String()), st.Duration)
	RecordRows(trans, st.Step, KindRead, st.LinesRead)
	RecordRows(trans, st.Step, KindWritten, st.LinesWritten)
	RecordRows(trans, st.Step, KindRejected, st.LinesRejected)
	RecordRows(trans, st.Step, KindInput, st.LinesInput)
	RecordRows(trans, st.Step, KindOutput, st.LinesOutput)
}

var _ engine.Reporter = Reporter{}
