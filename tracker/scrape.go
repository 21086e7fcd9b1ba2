// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package tracker

import (
	"github.com/majestrate/shoal/tracker/models"
)

// HandleScrape encapsulates all the logic of handling a BitTorrent client's
// scrape without being coupled to any transport protocol.
//
// A scrape never fails as a whole: torrents the client may not see are
// reported with zeroed stats. On private trackers a missing or invalid key
// zeroes every entry rather than disclosing which torrents exist.
func (tkr *Tracker) HandleScrape(scrape *models.Scrape, w Writer) error {
	hashes := scrape.Infohashes
	if len(hashes) > models.MaxScrapeTorrents {
		hashes = hashes[:models.MaxScrapeTorrents]
	}

	authed := tkr.Authenticate(scrape.Passkey) == nil

	files := make([]models.ScrapeFile, 0, len(hashes))
	for _, ih := range hashes {
		var swarm models.SwarmStats
		if authed && tkr.Authorize(ih) == nil {
			swarm = tkr.Repo.Stats(ih)
		}
		files = append(files, models.ScrapeFile{Infohash: ih, Stats: swarm})
	}

	return w.WriteScrape(&models.ScrapeResponse{
		Files: files,
	})
}
