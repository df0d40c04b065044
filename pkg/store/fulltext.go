package store

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// invertedIndex is a plain in-memory inverted index with BM25 scoring,
// rebuilt from the durable store on open and kept incrementally in sync
// by the write path and the index worker. It is not persisted; a process
// restart always rewarms it from bbolt (see Store.warmSideIndices).
type invertedIndex struct {
	postings   map[string]map[string]int // token -> memoryID -> term frequency
	docLength  map[string]int            // memoryID -> token count
	totalDocs  int
	totalLength int
}

func newInvertedIndex() *invertedIndex {
	return &invertedIndex{
		postings:  make(map[string]map[string]int),
		docLength: make(map[string]int),
	}
}

func (idx *invertedIndex) index(memoryID, content string) {
	if _, exists := idx.docLength[memoryID]; exists {
		idx.remove(memoryID)
	}
	tokens := tokenize(content)
	if len(tokens) == 0 {
		return
	}
	freq := make(map[string]int)
	for _, t := range tokens {
		freq[t]++
	}
	for t, f := range freq {
		if idx.postings[t] == nil {
			idx.postings[t] = make(map[string]int)
		}
		idx.postings[t][memoryID] = f
	}
	idx.docLength[memoryID] = len(tokens)
	idx.totalDocs++
	idx.totalLength += len(tokens)
}

func (idx *invertedIndex) remove(memoryID string) {
	length, ok := idx.docLength[memoryID]
	if !ok {
		return
	}
	for t, docs := range idx.postings {
		if _, present := docs[memoryID]; present {
			delete(docs, memoryID)
			if len(docs) == 0 {
				delete(idx.postings, t)
			}
		}
	}
	delete(idx.docLength, memoryID)
	idx.totalDocs--
	idx.totalLength -= length
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// search ranks documents against query using Okapi BM25, returning the top
// limit results sorted by score descending.
func (idx *invertedIndex) search(query string, limit int) []ScoredID {
	terms := uniqueTokens(tokenize(query))
	if len(terms) == 0 || idx.totalDocs == 0 {
		return nil
	}
	avgLength := float64(idx.totalLength) / float64(idx.totalDocs)

	scores := make(map[string]float64)
	for _, term := range terms {
		docs, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(idx.totalDocs)-float64(len(docs))+0.5)/(float64(len(docs))+0.5))
		for memoryID, tf := range docs {
			length := float64(idx.docLength[memoryID])
			norm := 1 - bm25B + bm25B*(length/avgLength)
			score := idf * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + bm25K1*norm)
			scores[memoryID] += score
		}
	}

	out := make([]ScoredID, 0, len(scores))
	for id, score := range scores {
		out = append(out, ScoredID{MemoryID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].MemoryID < out[j].MemoryID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
