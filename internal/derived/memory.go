package derived

import (
	"context"
	"maps"
	"sync"

	"github.com/syntrixbase/propagator/internal/events"
)

// Article is a snapshot of an article's derived state.
type Article struct {
	ID             any
	AuthorID       any
	Fields         map[string]any
	FavoritesCount int
}

// Comment is a snapshot of a comment's derived state.
type Comment struct {
	ID       any
	AuthorID any
	Fields   map[string]any
}

// Tag is a snapshot of a tag record.
type Tag struct {
	Name         string
	ArticleCount int
}

type marker struct {
	owner  string
	member string
}

// MemoryStore keeps derived state in memory. It has the same marker
// semantics as MongoStore and counts every write call it receives.
type MemoryStore struct {
	mu        sync.Mutex
	writes    int
	articles  map[string]*Article
	comments  map[string]*Comment
	tags      map[string]int
	tagMarks  map[marker]bool
	favorites map[marker]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles:  make(map[string]*Article),
		comments:  make(map[string]*Comment),
		tags:      make(map[string]int),
		tagMarks:  make(map[marker]bool),
		favorites: make(map[marker]bool),
	}
}

// PutArticle seeds an article. It is not counted as a write.
func (s *MemoryStore) PutArticle(id, authorID any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[events.FormatID(id)] = &Article{ID: id, AuthorID: authorID, Fields: map[string]any{}}
}

// PutFavoritesCount seeds an article's favorites counter without markers, the
// way counts written before this worker look. It is not counted as a write.
func (s *MemoryStore) PutFavoritesCount(id any, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.articles[events.FormatID(id)]; ok {
		a.FavoritesCount = count
	}
}

// PutTag seeds a tag record holding only a count. It is not counted as a write.
func (s *MemoryStore) PutTag(name string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[name] = count
}

// PutComment seeds a comment. It is not counted as a write.
func (s *MemoryStore) PutComment(id, authorID any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[events.FormatID(id)] = &Comment{ID: id, AuthorID: authorID, Fields: map[string]any{}}
}

// Article returns a snapshot of the article.
func (s *MemoryStore) Article(id any) (Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[events.FormatID(id)]
	if !ok {
		return Article{}, false
	}
	out := *a
	out.Fields = maps.Clone(a.Fields)
	return out, true
}

// Comment returns a snapshot of the comment.
func (s *MemoryStore) Comment(id any) (Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[events.FormatID(id)]
	if !ok {
		return Comment{}, false
	}
	out := *c
	out.Fields = maps.Clone(c.Fields)
	return out, true
}

// Tag returns the tag record, if present.
func (s *MemoryStore) Tag(name string) (Tag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.tags[name]
	if !ok {
		return Tag{}, false
	}
	return Tag{Name: name, ArticleCount: count}, true
}

// TagCounts returns every tag's article count.
func (s *MemoryStore) TagCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.tags))
	for name, count := range s.tags {
		out[name] = count
	}
	return out
}

// Writes returns the number of write calls received.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// ResetWrites zeroes the write counter.
func (s *MemoryStore) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = 0
}

func (s *MemoryStore) SetAuthorFields(_ context.Context, authorID any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	author := events.FormatID(authorID)
	for _, a := range s.articles {
		if events.FormatID(a.AuthorID) == author {
			maps.Copy(a.Fields, fields)
		}
	}
	for _, c := range s.comments {
		if events.FormatID(c.AuthorID) == author {
			maps.Copy(c.Fields, fields)
		}
	}
	return nil
}

func (s *MemoryStore) AddTag(_ context.Context, tag, articleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if !flip(s.tagMarks, marker{tag, articleID}, true) {
		return nil
	}
	s.tags[tag]++
	return nil
}

func (s *MemoryStore) RemoveTag(_ context.Context, tag, articleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if !flip(s.tagMarks, marker{tag, articleID}, false) {
		return nil
	}
	count, ok := s.tags[tag]
	if !ok {
		return nil
	}
	if count > 0 {
		count--
	}
	if count <= 0 {
		delete(s.tags, tag)
	} else {
		s.tags[tag] = count
	}
	return nil
}

func (s *MemoryStore) AddFavorite(_ context.Context, articleID any, favoriteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	id := events.FormatID(articleID)
	a, ok := s.articles[id]
	if !ok {
		return false, nil
	}
	if !flip(s.favorites, marker{id, favoriteID}, true) {
		return false, nil
	}
	a.FavoritesCount++
	return true, nil
}

func (s *MemoryStore) RemoveFavorite(_ context.Context, articleID any, favoriteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	id := events.FormatID(articleID)
	a, ok := s.articles[id]
	if !ok || a.FavoritesCount <= 0 {
		return false, nil
	}
	if !flip(s.favorites, marker{id, favoriteID}, false) {
		return false, nil
	}
	a.FavoritesCount--
	return true, nil
}

// flip sets the marker to counted and reports whether it changed. An absent
// marker counts as the opposite state.
func flip(marks map[marker]bool, m marker, counted bool) bool {
	if current, ok := marks[m]; ok && current == counted {
		return false
	}
	marks[m] = counted
	return true
}
