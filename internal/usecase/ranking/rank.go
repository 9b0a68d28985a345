package ranking

import "sort"

// Candidate — участник рейтинга и число решённых задач.
type Candidate struct {
	Subject string
	Solved  int
}

// Entry — строка рейтинга.
type Entry struct {
	Subject string `json:"subject"`
	Solved  int    `json:"solved"`
	Rank    int    `json:"rank"`
}

// Rank сортирует по убыванию решённых, при равенстве по имени, и назначает
// места с пропусками: [100, 80, 80, 60] -> [1, 2, 2, 4].
func Rank(candidates []Candidate) []Entry {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Solved != sorted[j].Solved {
			return sorted[i].Solved > sorted[j].Solved
		}
		return sorted[i].Subject < sorted[j].Subject
	})

	entries := make([]Entry, len(sorted))
	for i, c := range sorted {
		rank := i + 1
		if i > 0 && c.Solved == sorted[i-1].Solved {
			rank = entries[i-1].Rank
		}
		entries[i] = Entry{Subject: c.Subject, Solved: c.Solved, Rank: rank}
	}
	return entries
}
