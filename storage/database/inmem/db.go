// Package inmemdb is a process-local store. It backs the tests and the `memory` database engine.
package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
)

type (
	DB struct {
		user       *userTable
		exam       *examTable
		result     *resultTable
		attendance *attendanceTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	examTable struct {
		sync.RWMutex
		table map[string]*exam.Exam
	}

	resultTable struct {
		sync.RWMutex
		table map[string]*exam.Result // {examID/studentID: Result}
	}

	attendanceTable struct {
		sync.RWMutex
		table map[string]*attendance.Record // {studentID/periodKey: Record}
	}
)

var _ core.Store = (*DB)(nil)

func Open() *DB {
	return &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		exam:       &examTable{table: make(map[string]*exam.Exam)},
		result:     &resultTable{table: make(map[string]*exam.Result)},
		attendance: &attendanceTable{table: make(map[string]*attendance.Record)},
	}
}

func (db *DB) Ping(context.Context) error { return nil }
func (db *DB) Close() error               { return nil }

// Reset empties all tables.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.exam.Lock()
	db.exam.table = make(map[string]*exam.Exam)
	db.exam.Unlock()

	db.result.Lock()
	db.result.table = make(map[string]*exam.Result)
	db.result.Unlock()

	db.attendance.Lock()
	db.attendance.table = make(map[string]*attendance.Record)
	db.attendance.Unlock()
}

func compositeKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// lessFunc compares items i and j on a single field; it returns 0 when they are equal.
type lessFunc func(i, j int) int

// sortBy stably sorts n items with the given orderings; fields missing from cmps are ignored.
func sortBy(n int, swap func(i, j int), orderings []core.DBOrdering, cmps map[string]lessFunc) {
	sort.Stable(&sorter{n: n, swap: swap, orderings: orderings, cmps: cmps})
}

type sorter struct {
	n         int
	swap      func(i, j int)
	orderings []core.DBOrdering
	cmps      map[string]lessFunc
}

func (s *sorter) Len() int      { return s.n }
func (s *sorter) Swap(i, j int) { s.swap(i, j) }
func (s *sorter) Less(i, j int) bool {
	for _, ord := range s.orderings {
		cmp, ok := s.cmps[ord.Field]
		if !ok {
			continue
		}
		c := cmp(i, j)
		if c == 0 {
			continue
		}
		if ord.Ascending {
			return c < 0
		}
		return c > 0
	}
	return false
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
