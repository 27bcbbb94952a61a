package progress

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxWorldID is the last world; finishing it unlocks nothing further.
	MaxWorldID = 8
	// LessonsPerWorld is the number of lessons in every world.
	LessonsPerWorld = 6
	// MaxLessonStars is the best score a lesson can award.
	MaxLessonStars = 3
	// XPPerStar is granted per star on a lesson's first completion.
	XPPerStar = 10
)

// World is static catalog metadata for a world.
type World struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Theme   string   `json:"theme"`
	Lessons []string `json:"lessons"`
}

var worldNames = [MaxWorldID]struct{ name, theme string }{
	{"Money Basics", "What money is and where it comes from"},
	{"Budget Island", "Planning where your money goes"},
	{"Savings Summit", "Setting goals and paying yourself first"},
	{"Smart Spending City", "Needs, wants and comparing prices"},
	{"Banking Bay", "Accounts, cards and keeping money safe"},
	{"Credit Canyon", "Borrowing, interest and credit scores"},
	{"Investing Galaxy", "Growing money over time"},
	{"Entrepreneur Empire", "Earning with your own ideas"},
}

// LessonID formats the id of lesson n (1-based) in world.
func LessonID(world, n int) string {
	return fmt.Sprintf("%d-%d", world, n)
}

// Worlds returns the static world catalog.
func Worlds() []World {
	out := make([]World, 0, MaxWorldID)
	for i, meta := range worldNames {
		id := i + 1
		lessons := make([]string, LessonsPerWorld)
		for n := range lessons {
			lessons[n] = LessonID(id, n+1)
		}
		out = append(out, World{ID: id, Name: meta.name, Theme: meta.theme, Lessons: lessons})
	}
	return out
}

// validateLesson checks that lessonID names a lesson inside worldID.
func validateLesson(worldID int, lessonID string) error {
	if worldID < 1 || worldID > MaxWorldID {
		return fmt.Errorf("%w: world %d does not exist", ErrNotFound, worldID)
	}
	prefix, num, ok := strings.Cut(lessonID, "-")
	if !ok || prefix != strconv.Itoa(worldID) {
		return fmt.Errorf("%w: lesson %q is not part of world %d", ErrNotFound, lessonID, worldID)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > LessonsPerWorld {
		return fmt.Errorf("%w: lesson %q does not exist", ErrNotFound, lessonID)
	}
	return nil
}

func nextWorld(worldID int) int {
	if worldID >= MaxWorldID {
		return 0
	}
	return worldID + 1
}

// WorldView combines catalog metadata with a user's progress for the world.
type WorldView struct {
	World
	Progress WorldProgress `json:"progress"`
	Complete bool          `json:"complete"`
}

// buildWorldViews merges stored progress rows into the full catalog; missing rows are locked.
func buildWorldViews(userID string, rows []WorldProgress) []WorldView {
	byID := make(map[int]WorldProgress, len(rows))
	for _, row := range rows {
		byID[row.WorldID] = row
	}
	views := make([]WorldView, 0, MaxWorldID)
	for _, w := range Worlds() {
		row, ok := byID[w.ID]
		if !ok {
			row = LockedWorld(userID, w.ID)
		}
		if row.CompletedLessons == nil {
			row.CompletedLessons = []string{}
		}
		sort.Strings(row.CompletedLessons)
		views = append(views, WorldView{World: w, Progress: row, Complete: len(row.CompletedLessons) >= LessonsPerWorld})
	}
	return views
}

// LessonResult is returned after completing a lesson.
type LessonResult struct {
	LessonCompletion
	XPAwarded     int `json:"xp_awarded"`
	UnlockedWorld int `json:"unlocked_world,omitempty"`
}
