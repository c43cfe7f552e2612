package detect

import (
	"fmt"
	"math/rand"
)

// Synthetic traffic shapes for demos and benchmark tests. Normal events draw
// from a narrow distribution; outliers mimic the classic attack profiles.

// SampleKind tags the ground-truth shape of a generated event.
type SampleKind string

const (
	SampleNormal       SampleKind = "normal"
	SampleExfiltration SampleKind = "exfiltration"
	SampleDDoS         SampleKind = "ddos"
	SampleC2           SampleKind = "c2"
)

// LabeledEvent couples a generated record with its ground truth.
type LabeledEvent struct {
	Event EventRecord
	Kind  SampleKind
}

// IsAttack reports whether the sample is an outlier shape.
func (l LabeledEvent) IsAttack() bool { return l.Kind != SampleNormal }

// GenerateSampleEvents produces nNormal narrow-distribution events followed
// by nAttack outliers cycling through the attack shapes. Deterministic for
// a given seed.
func GenerateSampleEvents(nNormal, nAttack int, seed int64) []LabeledEvent {
	rng := rand.New(rand.NewSource(seed))
	events := make([]LabeledEvent, 0, nNormal+nAttack)

	ports := []int{80, 443, 22, 53}
	protocols := []string{"tcp", "udp"}
	services := []string{"http", "dns", "ssh"}
	for i := 0; i < nNormal; i++ {
		events = append(events, LabeledEvent{
			Kind: SampleNormal,
			Event: EventRecord{
				EventID:  fmt.Sprintf("EVT-%04d", i),
				BytesIn:  positive(rng.NormFloat64()*1000 + 5000),
				BytesOut: positive(rng.NormFloat64()*500 + 2000),
				Packets:  10 + rng.Intn(90),
				Duration: positive(rng.NormFloat64()*10 + 30),
				DstPort:  ports[rng.Intn(len(ports))],
				Protocol: protocols[rng.Intn(len(protocols))],
				Service:  services[rng.Intn(len(services))],
			},
		})
	}

	kinds := []SampleKind{SampleExfiltration, SampleDDoS, SampleC2}
	for i := 0; i < nAttack; i++ {
		kind := kinds[i%len(kinds)]
		ev := EventRecord{
			EventID:  fmt.Sprintf("ANM-%04d", i),
			Protocol: "tcp",
		}
		switch kind {
		case SampleExfiltration:
			// very high outbound volume over few packets, long-lived
			ev.BytesIn = positive(rng.NormFloat64()*200 + 1000)
			ev.BytesOut = positive(rng.NormFloat64()*100000 + 500000)
			ev.Packets = 1000 + rng.Intn(4000)
			ev.Duration = positive(rng.NormFloat64()*50 + 300)
			ev.DstPort = []int{443, 8080, 8443}[rng.Intn(3)]
			ev.Service = "http"
		case SampleDDoS:
			// massive inbound packet flood in short bursts
			ev.BytesIn = positive(rng.NormFloat64()*200000 + 1000000)
			ev.BytesOut = positive(rng.NormFloat64()*100 + 500)
			ev.Packets = 10000 + rng.Intn(40000)
			ev.Duration = positive(rng.NormFloat64()*2 + 5)
			ev.DstPort = 80
			ev.Service = "http"
		case SampleC2:
			// low-volume beaconing on odd ports, very long duration
			ev.BytesIn = positive(rng.NormFloat64()*20 + 100)
			ev.BytesOut = positive(rng.NormFloat64()*20 + 100)
			ev.Packets = 5 + rng.Intn(15)
			ev.Duration = positive(rng.NormFloat64()*600 + 3600)
			ev.DstPort = []int{4444, 5555, 8888}[rng.Intn(3)]
			ev.Service = "unknown"
		}
		events = append(events, LabeledEvent{Kind: kind, Event: ev})
	}
	return events
}

// Records strips the ground truth.
func Records(labeled []LabeledEvent) []EventRecord {
	out := make([]EventRecord, len(labeled))
	for i := range labeled {
		out[i] = labeled[i].Event
	}
	return out
}

// Labels extracts the attack flags aligned with Records.
func Labels(labeled []LabeledEvent) []bool {
	out := make([]bool, len(labeled))
	for i := range labeled {
		out[i] = labeled[i].IsAttack()
	}
	return out
}

func positive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
