/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package report renders the recommendation matrix as a markdown report for
// the researchers selecting source papers.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"chainguard.dev/matrixbatch/aggregate"
	"chainguard.dev/matrixbatch/matrix"
	"chainguard.dev/matrixbatch/reconcile"
)

// Coverage thresholds. A cell is covered when some paper scored at least 3
// against it, strongly covered at the recommendation threshold.
const (
	CoveredThreshold = 3
	StrongThreshold  = reconcile.RecommendThreshold
)

// topN caps the per-cell candidate listing.
const topN = 5

// maxFieldWidth keeps titles and question angles from blowing up table rows.
const maxFieldWidth = 60

// Input collects everything the report draws from.
type Input struct {
	Matrix      *matrix.Matrix
	Evaluations []reconcile.RecordEvaluation
	Recs        aggregate.Recommendations
	Stats       reconcile.Stats

	// Titles maps osti_id to document title, for the per-cell listings.
	Titles map[string]string
}

// Generate writes the full markdown report.
func Generate(w io.Writer, in Input) error {
	var b strings.Builder

	b.WriteString("# CMM Gold Q&A Paper Recommendation Report\n\n")
	writeSummary(&b, in)
	writeCommodityCoverage(&b, in)
	writeSubdomainCoverage(&b, in)
	writeCellRecommendations(&b, in)
	writeGapAnalysis(&b, in)

	fmt.Fprintf(&b, "---\n\n*Report generated from %d paper evaluations across %d matrix cells.*\n",
		in.Stats.Parsed+in.Stats.Salvaged, in.Matrix.Len())

	_, err := io.WriteString(w, b.String())
	return err
}

// bestScore is the cell's top entry score, 0 when nothing was evaluated
// against it.
func bestScore(recs aggregate.Recommendations, cellID string) int {
	if entries := recs[cellID]; len(entries) > 0 {
		return entries[0].RelevanceScore
	}
	return 0
}

func writeSummary(b *strings.Builder, in Input) {
	covered, strong := 0, 0
	for _, c := range in.Matrix.Cells() {
		best := bestScore(in.Recs, c.ID)
		if best >= CoveredThreshold {
			covered++
		}
		if best >= StrongThreshold {
			strong++
		}
	}

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(b, "- **Papers evaluated**: %d\n", in.Stats.Parsed+in.Stats.Salvaged)
	fmt.Fprintf(b, "- **Papers recommended** (any cell score >= %d): %d\n", StrongThreshold, in.Stats.Recommended)
	fmt.Fprintf(b, "- **High overall CMM relevance** (>= %d): %d\n", StrongThreshold, in.Stats.HighRelevance)
	fmt.Fprintf(b, "- **Matrix cells covered** (score >= %d): %d/%d\n", CoveredThreshold, covered, in.Matrix.Len())
	fmt.Fprintf(b, "- **Strongly covered cells** (score >= %d): %d/%d\n", StrongThreshold, strong, in.Matrix.Len())
	fmt.Fprintf(b, "- **Gap cells** (no paper with score >= %d): %d\n\n", CoveredThreshold, in.Matrix.Len()-covered)
}

// axisCoverage tallies one commodity or subdomain: how many of its cells are
// covered and the mean of its cells' best scores.
func axisCoverage(recs aggregate.Recommendations, cells []matrix.Cell) (covered int, avgTop string) {
	var scores []int
	for _, c := range cells {
		if entries := recs[c.ID]; len(entries) > 0 {
			best := entries[0].RelevanceScore
			scores = append(scores, best)
			if best >= CoveredThreshold {
				covered++
			}
		}
	}
	if len(scores) == 0 {
		return 0, "N/A"
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return covered, fmt.Sprintf("%.1f", float64(sum)/float64(len(scores)))
}

func writeCommodityCoverage(b *strings.Builder, in Input) {
	b.WriteString("## Coverage by Commodity\n\n")

	var buf bytes.Buffer
	table := newMarkdownTable([]string{"Commodity", "Papers Evaluated", "Cells", "Cells Covered (>=3)", "Avg Top Score"}, &buf)

	for _, comm := range matrix.Commodities() {
		cells := in.Matrix.ForCommodity(comm)
		if len(cells) == 0 {
			continue
		}
		cellIDs := make(map[string]bool, len(cells))
		for _, c := range cells {
			cellIDs[c.ID] = true
		}

		papers := 0
		for _, ev := range in.Evaluations {
			for _, ce := range ev.CellEvaluations {
				if cellIDs[ce.CellID] {
					papers++
					break
				}
			}
		}

		covered, avgTop := axisCoverage(in.Recs, cells)
		_ = table.Append([]string{
			fmt.Sprintf("%s (%s)", matrix.CommodityDisplay(comm), comm),
			fmt.Sprintf("%d", papers),
			fmt.Sprintf("%d", len(cells)),
			fmt.Sprintf("%d", covered),
			avgTop,
		})
	}
	_ = table.Render()

	b.WriteString(buf.String())
	b.WriteString("\n")
}

func writeSubdomainCoverage(b *strings.Builder, in Input) {
	b.WriteString("## Coverage by Subdomain\n\n")

	var buf bytes.Buffer
	table := newMarkdownTable([]string{"Subdomain", "Cells", "Cells Covered (>=3)", "Avg Top Score"}, &buf)

	for _, sub := range matrix.Subdomains() {
		cells := in.Matrix.ForSubdomain(sub)
		if len(cells) == 0 {
			continue
		}
		covered, avgTop := axisCoverage(in.Recs, cells)
		_ = table.Append([]string{
			fmt.Sprintf("%s (%s)", matrix.SubdomainDisplay(sub), sub),
			fmt.Sprintf("%d", len(cells)),
			fmt.Sprintf("%d", covered),
			avgTop,
		})
	}
	_ = table.Render()

	b.WriteString(buf.String())
	b.WriteString("\n")
}

func writeCellRecommendations(b *strings.Builder, in Input) {
	b.WriteString("## Cell-Level Recommendations\n\n")

	for _, group := range matrix.DomainGroups() {
		fmt.Fprintf(b, "### %s Domain\n\n", group.Name)

		for _, sub := range group.Subdomains {
			cells := in.Matrix.ForSubdomain(sub)
			if len(cells) == 0 {
				continue
			}
			fmt.Fprintf(b, "#### %s (%s)\n\n", matrix.SubdomainDisplay(sub), sub)

			for _, cell := range cells {
				fmt.Fprintf(b, "**Q%d: %s**\n", cell.QuestionNumber, cell.ID)
				fmt.Fprintf(b, "- Commodity: %s | Level: %s (%s) | Stratum: %s\n",
					cell.Commodity, cell.LevelDisplay(), cell.Level, cell.Stratum)
				fmt.Fprintf(b, "- Topic: %s\n\n", cell.TopicFocus)

				top := in.Recs.Top(cell.ID, topN)
				if len(top) == 0 {
					b.WriteString("*No papers evaluated for this cell.*\n\n")
					continue
				}

				var buf bytes.Buffer
				table := newMarkdownTable([]string{"Rank", "OSTI ID", "Score", "Title", "Question Angle"}, &buf)
				for rank, e := range top {
					title := in.Titles[e.OSTIID]
					if title == "" {
						title = "Unknown"
					}
					_ = table.Append([]string{
						fmt.Sprintf("%d", rank+1),
						e.OSTIID,
						fmt.Sprintf("%d/5", e.RelevanceScore),
						clip(title, maxFieldWidth),
						clip(e.SuggestedQuestionAngle, maxFieldWidth),
					})
				}
				_ = table.Render()

				b.WriteString(buf.String())
				b.WriteString("\n")
			}
		}
	}
}

func writeGapAnalysis(b *strings.Builder, in Input) {
	b.WriteString("## Gap Analysis\n\n")
	fmt.Fprintf(b, "Cells with no paper scoring >= %d (need external sources or additional papers):\n\n", CoveredThreshold)

	type gap struct {
		cell  matrix.Cell
		score int
	}
	var gaps []gap
	for _, c := range in.Matrix.Cells() {
		if best := bestScore(in.Recs, c.ID); best < CoveredThreshold {
			gaps = append(gaps, gap{cell: c, score: best})
		}
	}

	if len(gaps) == 0 {
		fmt.Fprintf(b, "*No gaps -- all cells have at least one paper with relevance score >= %d.*\n\n", CoveredThreshold)
		return
	}

	fmt.Fprintf(b, "**%d cells** need additional source material:\n\n", len(gaps))

	var buf bytes.Buffer
	table := newMarkdownTable([]string{"Q#", "Cell ID", "Commodity", "Subdomain", "Level", "Topic", "Best Score"}, &buf)
	for _, g := range gaps {
		_ = table.Append([]string{
			fmt.Sprintf("Q%d", g.cell.QuestionNumber),
			g.cell.ID,
			g.cell.Commodity,
			g.cell.Subdomain,
			g.cell.Level,
			g.cell.TopicFocus,
			fmt.Sprintf("%d/5", g.score),
		})
	}
	_ = table.Render()
	b.WriteString(buf.String())
	b.WriteString("\n")

	b.WriteString("### Gap Distribution by Commodity\n\n")
	byComm := make(map[string][]matrix.Cell)
	for _, g := range gaps {
		byComm[g.cell.Commodity] = append(byComm[g.cell.Commodity], g.cell)
	}
	for _, comm := range matrix.Commodities() {
		cells, ok := byComm[comm]
		if !ok {
			continue
		}
		var locs []string
		for _, c := range cells {
			locs = append(locs, c.Subdomain+"/"+c.Level)
		}
		fmt.Fprintf(b, "- **%s**: %d cells -- %s\n", comm, len(cells), strings.Join(locs, ", "))
	}
	b.WriteString("\n")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
