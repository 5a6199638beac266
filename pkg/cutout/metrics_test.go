package cutout

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promdto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// observations counts the samples of the histogram name with exactly
// the given label pairs, in label name order.
func observations(t *testing.T, name string, labels ...string) uint64 {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		require.Equal(t, promdto.MetricType_HISTOGRAM, family.GetType(), name)
	next:
		for _, m := range family.GetMetric() {
			if len(m.GetLabel())*2 != len(labels) {
				continue
			}
			for i, l := range m.GetLabel() {
				if l.GetName() != labels[2*i] || l.GetValue() != labels[2*i+1] {
					continue next
				}
			}
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestExtractDurationMetric(t *testing.T) {
	const name = "sbnsis_cutout_extract_duration_seconds"
	e, image := setup(t)
	spec := mustSpec(t, 0, -25, "0.3deg")

	windowed := observations(t, name, "stage", "window", "success", "true")
	cached := observations(t, name, "stage", "cached", "success", "true")
	_, err := e.Extract(context.Background(), "obs-1", image, 0, 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, windowed+1, observations(t, name, "stage", "window", "success", "true"))

	_, err = e.Extract(context.Background(), "obs-1", image, 0, 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, cached+1, observations(t, name, "stage", "cached", "success", "true"))

	failed := observations(t, name, "stage", "window", "success", "false")
	_, err = e.Extract(context.Background(), "obs-1", image, 0, 0, mustSpec(t, 180, 25, "1deg"), "")
	require.Error(t, err)
	assert.Equal(t, failed+1, observations(t, name, "stage", "window", "success", "false"))
}
