package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/gowikimark/gowikimark/internal/app/service/preparse"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// PageExtensions are the page file extensions, in lookup order.
var PageExtensions = []string{".md", ".txt"}

// ErrInvalidPageName is returned for names that would escape the directory.
var ErrInvalidPageName = errors.New("invalid page name")

var pageNamePattern = regexp.MustCompile(`^[\pL\pN][\pL\pN _.-]*$`)

// DirectoryPageStore keeps pages as <Name>.md or <Name>.txt files in one
// directory and attachments under attachments/<Page>/.
type DirectoryPageStore struct {
	root string

	// rendered holds the link targets seen when a page was last rendered.
	rendered      map[string][]string
	renderedMutex sync.RWMutex

	fileLocks  map[string]*sync.RWMutex
	locksMutex sync.Mutex
}

// NewDirectoryPageStore serves pages from root, which must exist.
func NewDirectoryPageStore(root string) (*DirectoryPageStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open page directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("page directory %s is not a directory", root)
	}
	return &DirectoryPageStore{
		root:      root,
		rendered:  make(map[string][]string),
		fileLocks: make(map[string]*sync.RWMutex),
	}, nil
}

// Root is the page directory.
func (s *DirectoryPageStore) Root() string { return s.root }

func validPageName(name string) bool {
	return pageNamePattern.MatchString(name) && !strings.Contains(name, "..")
}

func (s *DirectoryPageStore) fileLock(path string) *sync.RWMutex {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()
	lock, ok := s.fileLocks[path]
	if !ok {
		lock = &sync.RWMutex{}
		s.fileLocks[path] = lock
	}
	return lock
}

// GetPage implements provider.PageStore. A missing page is (nil, nil).
func (s *DirectoryPageStore) GetPage(ctx context.Context, name string) (*provider.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validPageName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPageName, name)
	}
	for _, ext := range PageExtensions {
		path := filepath.Join(s.root, name+ext)
		lock := s.fileLock(path)
		lock.RLock()
		data, err := os.ReadFile(path)
		var info os.FileInfo
		if err == nil {
			info, err = os.Stat(path)
		}
		lock.RUnlock()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", name, err)
		}
		return &provider.Page{Name: name, Content: string(data), Modified: info.ModTime()}, nil
	}
	return nil, nil
}

// SavePage writes content atomically, keeping the extension of an existing page.
func (s *DirectoryPageStore) SavePage(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validPageName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPageName, name)
	}
	path := filepath.Join(s.root, name+PageExtensions[0])
	for _, ext := range PageExtensions {
		candidate := filepath.Join(s.root, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write page %s: %w", name, err)
	}

	s.renderedMutex.Lock()
	delete(s.rendered, name)
	s.renderedMutex.Unlock()
	return nil
}

// ListPages returns the page names in lexical order.
func (s *DirectoryPageStore) ListPages(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	seen := make(map[string]bool)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isPageExtension(ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if validPageName(name) && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func isPageExtension(ext string) bool {
	for _, e := range PageExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// GetAttachment implements provider.AttachmentStore.
func (s *DirectoryPageStore) GetAttachment(ctx context.Context, pageName, filename string) (*provider.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validPageName(pageName) || !validPageName(filename) {
		return nil, nil
	}
	path := filepath.Join(s.root, "attachments", pageName, filename)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat attachment %s/%s: %w", pageName, filename, err)
	}
	if info.IsDir() {
		return nil, nil
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &provider.Attachment{
		Name:        filename,
		Page:        pageName,
		Size:        info.Size(),
		ContentType: contentType,
		Modified:    info.ModTime(),
	}, nil
}

// RecordLinks implements provider.LinkRecorder.
func (s *DirectoryPageStore) RecordLinks(pageName string, targets []string) {
	s.renderedMutex.Lock()
	defer s.renderedMutex.Unlock()
	s.rendered[pageName] = append([]string(nil), targets...)
}

// Snapshot implements provider.LinkGraph: each page maps to the existing
// pages it links to. Targets recorded at render time replace those scanned
// from the page source.
func (s *DirectoryPageStore) Snapshot() map[string][]string {
	ctx := context.Background()
	names, err := s.ListPages(ctx)
	if err != nil {
		return map[string][]string{}
	}
	exists := make(map[string]bool, len(names))
	for _, n := range names {
		exists[n] = true
	}

	s.renderedMutex.RLock()
	defer s.renderedMutex.RUnlock()

	graph := make(map[string][]string, len(names))
	for _, name := range names {
		targets, ok := s.rendered[name]
		if !ok {
			page, err := s.GetPage(ctx, name)
			if err != nil || page == nil {
				continue
			}
			targets = preparse.LinkTargets(page.Content)
		}
		links := []string{}
		for _, target := range targets {
			if exists[target] {
				links = append(links, target)
			}
		}
		graph[name] = links
	}
	return graph
}
