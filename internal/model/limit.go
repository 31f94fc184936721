package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidLimit возвращается для строки лимита, не соответствующей формату "<count>/<period>".
var ErrInvalidLimit = errors.New("invalid limit")

// Period описывает окно, в котором считается лимит начислений.
type Period string

const (
	PeriodUnlimited Period = "x"
	PeriodDay       Period = "d"
	PeriodWeek      Period = "w"
	PeriodMonth     Period = "m"
	PeriodTotal     Period = "t"
)

// Valid сообщает, известен ли период.
func (p Period) Valid() bool {
	switch p {
	case PeriodUnlimited, PeriodDay, PeriodWeek, PeriodMonth, PeriodTotal:
		return true
	default:
		return false
	}
}

// LimitSpec задаёт, сколько раз правило может сработать для пользователя за период.
type LimitSpec struct {
	Count  int
	Period Period
}

// NoLimit означает отсутствие лимита ("0/x").
var NoLimit = LimitSpec{Count: 0, Period: PeriodUnlimited}

// Unlimited сообщает, что лимит не ограничивает начисления.
func (l LimitSpec) Unlimited() bool {
	return l.Count <= 0 || l.Period == PeriodUnlimited || l.Period == ""
}

// String возвращает лимит в формате "<count>/<period>".
func (l LimitSpec) String() string {
	p := l.Period
	if p == "" {
		p = PeriodUnlimited
	}
	return strconv.Itoa(l.Count) + "/" + string(p)
}

// WindowStart возвращает начало окна подсчёта для момента now (в UTC).
// Второе значение равно false, если окно не ограничено по времени.
func (l LimitSpec) WindowStart(now time.Time) (time.Time, bool) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch l.Period {
	case PeriodDay:
		return day, true
	case PeriodWeek:
		// Неделя начинается с понедельника.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), true
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
	default:
		return time.Time{}, false
	}
}

// ParseLimitSpec разбирает строку вида "3/d". Пустая строка означает отсутствие лимита.
func ParseLimitSpec(s string) (LimitSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoLimit, nil
	}

	countStr, periodStr, ok := strings.Cut(s, "/")
	if !ok {
		return LimitSpec{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}

	countStr = strings.TrimSpace(countStr)
	count := 0
	if countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil || n < 0 {
			return LimitSpec{}, fmt.Errorf("%w: bad count %q", ErrInvalidLimit, countStr)
		}
		count = n
	}

	period := Period(strings.TrimSpace(periodStr))
	if !period.Valid() {
		return LimitSpec{}, fmt.Errorf("%w: bad period %q", ErrInvalidLimit, periodStr)
	}

	return LimitSpec{Count: count, Period: period}, nil
}
