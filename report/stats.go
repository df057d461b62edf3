package report

import "github.com/ethereum-optimism/infra/op-harness/status"

// Stats aggregates testcase outcomes at any level of the tree.
type Stats struct {
	Total    int
	Passed   int
	Failed   int
	Errored  int
	Skipped  int
	Unstable int
}

func (s *Stats) record(st status.Status) {
	s.Total++
	switch st {
	case status.Passed:
		s.Passed++
	case status.Failed:
		s.Failed++
	case status.Error:
		s.Errored++
	case status.Skipped:
		s.Skipped++
	case status.Unstable:
		s.Unstable++
	}
}

func (s *Stats) add(other Stats) {
	s.Total += other.Total
	s.Passed += other.Passed
	s.Failed += other.Failed
	s.Errored += other.Errored
	s.Skipped += other.Skipped
	s.Unstable += other.Unstable
}

// CollectStats walks the subtree and counts testcase outcomes. Group nodes
// contribute their testcase leaves only, never themselves.
func CollectStats(n Node) Stats {
	var s Stats
	switch node := n.(type) {
	case *TestCaseReport:
		s.record(node.EffectiveStatus())
	case *TestGroupReport:
		for _, child := range node.Entries() {
			s.add(CollectStats(child))
		}
	case *Report:
		for _, g := range node.Entries() {
			s.add(CollectStats(g))
		}
	}
	return s
}
