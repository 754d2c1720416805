// Package scrape orchestrates one meter reading: it issues one ECHONET
// Lite Get per configured measure and decodes the typed fields out of each
// response, serialized so the HTTP frontend can safely call it from
// concurrent requests even though the core below it is not re-entrant.
package scrape

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hnw/broute-meter-exporter/echonet"
	"github.com/hnw/broute-meter-exporter/modem"
)

// Measure configures one ECHONET Lite property to read and how to unpack
// it into one or more named integer samples.
type Measure struct {
	Name   string
	Help   string
	EPC    byte
	Layout []echonet.FieldLayout
}

// Sample is one (metric name, integer value) pair ready for exposition.
type Sample struct {
	Name  string
	Help  string
	Value int64
}

// Scraper issues one Get per configured Measure against a fixed target
// object and decodes the results.
type Scraper struct {
	codec     *echonet.Codec
	seoj      echonet.Eoj // always the controller object, 05 FF 01
	deoj      echonet.Eoj // configured target_object
	measures  []Measure
	timeoutMs int

	mu sync.Mutex
}

// ControllerObject is the conventional SEOJ a controller node uses when
// addressing a target device: 05 FF 01.
var ControllerObject = echonet.Eoj{ClassGroup: 0x05, ClassCode: 0xFF, Instance: 0x01}

// New constructs a Scraper.
func New(codec *echonet.Codec, target echonet.Eoj, measures []Measure, recvTimeoutMs int) *Scraper {
	return &Scraper{
		codec:     codec,
		seoj:      ControllerObject,
		deoj:      target,
		measures:  measures,
		timeoutMs: recvTimeoutMs,
	}
}

// Scrape issues one Get request per configured measure, in order, and
// returns the decoded samples. It is safe to call from multiple
// goroutines; calls are serialized since the underlying modem/session
// cannot service more than one in-flight request.
func (s *Scraper) Scrape() ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Sample
	for _, m := range s.measures {
		req := s.codec.NewRequest(s.seoj, s.deoj, echonet.ESVGet, []byte{m.EPC})
		resp, ok, err := s.codec.Request(req, s.timeoutMs)
		if err != nil {
			return nil, fmt.Errorf("scrape: requesting %s (EPC %02X): %w", m.Name, m.EPC, err)
		}
		if !ok {
			return nil, fmt.Errorf("scrape: timed out waiting for %s (EPC %02X): %w", m.Name, m.EPC, modem.ErrTimeout)
		}

		prop, found := findProperty(resp.EData.Props, m.EPC)
		if !found {
			log.WithField("measure", m.Name).Warn("scrape: response did not include the requested property")
			continue
		}

		fields, err := echonet.ReadFields(prop, m.Layout)
		if err != nil {
			return nil, fmt.Errorf("scrape: decoding %s: %w", m.Name, err)
		}
		out = append(out, samplesFromFields(m, fields)...)
	}
	return out, nil
}

func findProperty(props []echonet.Property, epc byte) (echonet.Property, bool) {
	for _, p := range props {
		if p.EPC == epc {
			return p, true
		}
	}
	return echonet.Property{}, false
}

func samplesFromFields(m Measure, fields []echonet.Field) []Sample {
	if len(fields) == 1 {
		return []Sample{{Name: m.Name, Help: m.Help, Value: fields[0].Value}}
	}
	out := make([]Sample, 0, len(fields))
	for _, f := range fields {
		out = append(out, Sample{Name: m.Name + "_" + f.Name, Help: m.Help, Value: f.Value})
	}
	return out
}
