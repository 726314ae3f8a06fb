package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/judesonleo/songcast/internal/session"
)

// Bible serves verse lookups from per-language translation files. Each
// file is <dir>/<lang>.json mapping "Book Chapter:Verse" to verse text.
type Bible struct {
	dir             string
	defaultLanguage string

	mu           sync.RWMutex
	translations map[string]map[string]string // lang -> normalized ref -> text
	references   map[string]map[string]string // lang -> normalized ref -> canonical ref
}

// NewBible loads every <lang>.json translation under dir. A missing
// directory yields an empty provider rather than an error so the
// server can run songs-only.
func NewBible(dir, defaultLanguage string) (*Bible, error) {
	b := &Bible{
		dir:             dir,
		defaultLanguage: defaultLanguage,
		translations:    make(map[string]map[string]string),
		references:      make(map[string]map[string]string),
	}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads all translation files.
func (b *Bible) Reload() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("bible directory missing, verse lookups disabled", "dir", b.dir)
			return nil
		}
		return fmt.Errorf("reading bible directory: %w", err)
	}

	translations := make(map[string]map[string]string)
	references := make(map[string]map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		lang := strings.TrimSuffix(entry.Name(), ".json")
		path := filepath.Join(b.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable translation", "path", path, "error", err)
			continue
		}
		var verses map[string]string
		if err := json.Unmarshal(data, &verses); err != nil {
			slog.Warn("skipping unparseable translation", "path", path, "error", err)
			continue
		}
		byRef := make(map[string]string, len(verses))
		canonical := make(map[string]string, len(verses))
		for ref, text := range verses {
			key := normalizeReference(ref)
			byRef[key] = text
			canonical[key] = ref
		}
		translations[lang] = byRef
		references[lang] = canonical
	}

	b.mu.Lock()
	b.translations = translations
	b.references = references
	b.mu.Unlock()

	slog.Info("bible translations loaded", "dir", b.dir, "languages", len(translations))
	return nil
}

func normalizeReference(ref string) string {
	return strings.Join(strings.Fields(strings.ToLower(ref)), " ")
}

// LookupVerse returns the verse for reference in language, falling
// back to the default language when the requested one is not loaded.
// Unknown references return session.ErrContentNotFound.
func (b *Bible) LookupVerse(ctx context.Context, reference, language string) (session.Verse, error) {
	if err := ctx.Err(); err != nil {
		return session.Verse{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	lang := language
	verses, ok := b.translations[lang]
	if !ok {
		lang = b.defaultLanguage
		verses, ok = b.translations[lang]
		if !ok {
			return session.Verse{}, fmt.Errorf("no translation for %q: %w", language, session.ErrContentNotFound)
		}
	}

	key := normalizeReference(reference)
	text, ok := verses[key]
	if !ok {
		return session.Verse{}, fmt.Errorf("verse %q not found in %q: %w", reference, lang, session.ErrContentNotFound)
	}
	return session.Verse{
		Reference: b.references[lang][key],
		Text:      text,
		Language:  lang,
	}, nil
}

// SearchVerses returns verses in language whose reference or text
// contains query, case-insensitively.
func (b *Bible) SearchVerses(query, language string) []session.Verse {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	lang := language
	verses, ok := b.translations[lang]
	if !ok {
		lang = b.defaultLanguage
		verses, ok = b.translations[lang]
		if !ok {
			return nil
		}
	}

	var out []session.Verse
	for key, text := range verses {
		if strings.Contains(key, query) || strings.Contains(strings.ToLower(text), query) {
			out = append(out, session.Verse{
				Reference: b.references[lang][key],
				Text:      text,
				Language:  lang,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}

// Languages returns the loaded translation codes, sorted.
func (b *Bible) Languages() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.translations))
	for lang := range b.translations {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
