// Package techdetect identifies the technology stack behind a site using
// wappalyzergo fingerprints: CMS platforms, CDNs, frameworks and servers.
package techdetect

import (
	"net/http"
	"sort"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// Technology is one detected product with its category names.
type Technology struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
}

// Detector fingerprints a site from one representative response.
type Detector struct {
	client *wappalyzer.Wappalyze
}

// categoryNames maps wappalyzer category IDs to human-readable names
var categoryNames map[int]string
var categoryNamesOnce sync.Once

// New creates a technology detector.
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	// Initialise category names mapping once
	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		cats := wappalyzer.GetCategoriesMapping()
		for id, cat := range cats {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{
		client: client,
	}, nil
}

// Detect identifies technologies from a page's HTTP headers and body. The
// result is sorted by name so reports are stable between runs.
func (d *Detector) Detect(headers http.Header, body []byte) []Technology {
	fingerprints := d.client.FingerprintWithCats(headers, body)

	techs := make([]Technology, 0, len(fingerprints))
	for name, catInfo := range fingerprints {
		tech := Technology{Name: name}
		for _, catID := range catInfo.Cats {
			if catName, ok := categoryNames[catID]; ok {
				tech.Categories = append(tech.Categories, catName)
			}
		}
		techs = append(techs, tech)
	}

	sort.Slice(techs, func(i, j int) bool {
		return techs[i].Name < techs[j].Name
	})

	log.Debug().
		Int("tech_count", len(techs)).
		Msg("Technology detection completed")

	return techs
}

// Names flattens detections to their names, in the same stable order.
func Names(techs []Technology) []string {
	names := make([]string, len(techs))
	for i, tech := range techs {
		names[i] = tech.Name
	}
	return names
}
