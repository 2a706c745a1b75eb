package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/internal/chunker"
	"github.com/seanblong/notesearch/internal/corpus"
	"github.com/seanblong/notesearch/internal/store"
	"github.com/seanblong/notesearch/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
	Stat(filename string) (os.FileInfo, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (d *DefaultFileReader) Stat(filename string) (os.FileInfo, error) {
	return os.Stat(filename)
}

// Indexer loads a directory of notes, chunks them and stores their
// embeddings.
type Indexer struct {
	Store      store.ChunkStore
	Root       string
	Client     ai.Embedder
	Walker     FileSystemWalker
	FileReader FileReader
	// MaxTokens caps chunk size; zero uses chunker.DefaultMaxTokens.
	MaxTokens int
	// Workers bounds concurrent documents; zero uses NumCPU capped at 8.
	Workers int

	stats counters
}

// Stats summarizes one Run.
type Stats struct {
	Documents int64
	Chunks    int64
	Embedded  int64
	Unchanged int64
	Failed    int64
	Removed   int64
}

type counters struct {
	documents, chunks, embedded, unchanged, failed, removed atomic.Int64
}

var (
	hashtagPattern  = regexp.MustCompile(`(?:^|\s)#([A-Za-z][\w/-]*)`)
	tagsLinePattern = regexp.MustCompile(`(?mi)^tags:\s*(.+)$`)
)

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// New creates a new Indexer instance.
func New(s store.ChunkStore, root string, clientConfig *ai.ClientConfig) (*Indexer, error) {
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &Indexer{
		Store:      s,
		Root:       root,
		Client:     client,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}, nil
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(store store.ChunkStore, root string, client ai.Embedder, walker FileSystemWalker, fileReader FileReader) *Indexer {
	return &Indexer{
		Store:      store,
		Root:       root,
		Client:     client,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// workItem represents a file to be processed
type workItem struct {
	path    string
	content string
}

// processWorkItem stores one note and its chunks. Chunks whose content hash
// is unchanged keep their stored embedding.
func (ix *Indexer) processWorkItem(ctx context.Context, item workItem) error {
	doc := ix.buildDocument(item)
	if err := ix.Store.UpsertDocument(ctx, doc); err != nil {
		log.Error().Err(err).Str("path", item.path).Msg("document upsert failed")
		ix.stats.failed.Add(1)
		return nil
	}
	ix.stats.documents.Add(1)

	chunks := chunker.Chunk(doc, ix.MaxTokens)
	for _, ch := range chunks {
		ix.stats.chunks.Add(1)
		text := embedText(ch)
		hash := hashContent(text)

		needEmbed := true
		meta, found, err := ix.Store.GetChunkMeta(ctx, ch.DocumentID, ch.Index)
		if err == nil {
			needEmbed = !found || meta.ContentHash != hash || !meta.HasEmbedding
		}

		var vec []float32
		if needEmbed {
			vec, err = ix.Client.Embed(ctx, text)
			if err != nil {
				// leave the stored hash alone so the next run retries
				log.Warn().Err(err).Str("document", ch.DocumentID).Int("chunk", ch.Index).Msg("embedding failed, skipping chunk")
				ix.stats.failed.Add(1)
				continue
			}
			ix.stats.embedded.Add(1)
		} else {
			ix.stats.unchanged.Add(1)
		}

		log.Debug().Str("document", ch.DocumentID).
			Int("chunk", ch.Index).
			Int("tokens", ch.TokenCount).
			Bool("need_embed", needEmbed).
			Msg("indexing chunk")
		if err := ix.Store.UpsertChunk(ctx, ch, vec, hash); err != nil {
			log.Error().Err(err).Str("path", item.path).Msg("upsert failed")
			ix.stats.failed.Add(1)
		}
	}

	n, err := ix.Store.DeleteChunksFrom(ctx, doc.ID, len(chunks))
	if err != nil {
		log.Warn().Err(err).Str("document", doc.ID).Msg("stale chunk cleanup failed")
	}
	ix.stats.removed.Add(n)
	return nil
}

func (ix *Indexer) buildDocument(item workItem) models.Document {
	relPath := rel(ix.Root, item.path)
	doc := models.Document{
		ID:   filepath.ToSlash(relPath),
		Text: item.content,
		Metadata: models.DocumentMetadata{
			Path: item.path,
			Size: int64(len(item.content)),
			Tags: deriveTags(item.content),
		},
	}
	if info, err := ix.FileReader.Stat(item.path); err == nil && info != nil {
		doc.Metadata.Size = info.Size()
		doc.Metadata.ModTime = info.ModTime()
	}
	return doc
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8 // Cap at 8 to avoid overwhelming the AI API
	}
	return n
}

func (ix *Indexer) Run(ctx context.Context) error {
	ix.stats = counters{}
	numWorkers := ix.workers()
	log.Info().Int("workers", numWorkers).Str("root", ix.Root).Msg("starting concurrent indexing")

	// Create channels for work distribution
	workChan := make(chan workItem, numWorkers*2) // Buffer to keep workers busy
	errorChan := make(chan error, 1)

	// Start worker goroutines
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				if err := ix.processWorkItem(ctx, item); err != nil {
					select {
					case errorChan <- err:
					default:
						// Error channel is full, log the error
						log.Error().Err(err).Str("path", item.path).Msg("worker processing error")
					}
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	// Walk files and send them to workers
	walkErr := ix.Walker.Walk(ix.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if skipDir(de.Name()) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if shouldSkip(path) {
				return nil
			}

			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, content: string(b)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	// Close work channel to signal workers to finish
	close(workChan)
	wg.Wait()
	close(errorChan)

	st := ix.Stats()
	log.Info().
		Int64("documents", st.Documents).
		Int64("chunks", st.Chunks).
		Int64("embedded", st.Embedded).
		Int64("unchanged", st.Unchanged).
		Int64("removed", st.Removed).
		Int64("failed", st.Failed).
		Msg("indexing finished")

	if err := <-errorChan; err != nil {
		return err
	}
	return walkErr
}

// Stats returns the counters of the latest Run.
func (ix *Indexer) Stats() Stats {
	return Stats{
		Documents: ix.stats.documents.Load(),
		Chunks:    ix.stats.chunks.Load(),
		Embedded:  ix.stats.embedded.Load(),
		Unchanged: ix.stats.unchanged.Load(),
		Failed:    ix.stats.failed.Load(),
		Removed:   ix.stats.removed.Load(),
	}
}

// LoadCorpus fills ix with every embedded chunk in s, grouped by document.
// Documents in ix without embedded chunks in s are removed, so it also
// refreshes a live index after a reindex.
func LoadCorpus(ctx context.Context, s store.ChunkStore, ix *corpus.Index) (int, error) {
	chunks, err := s.LoadChunks(ctx)
	if err != nil {
		return 0, err
	}
	byDoc := make(map[string][]models.IndexedChunk)
	var order []string
	for _, c := range chunks {
		id := c.Chunk.DocumentID
		if _, ok := byDoc[id]; !ok {
			order = append(order, id)
		}
		byDoc[id] = append(byDoc[id], c)
	}
	for _, id := range ix.Documents() {
		if _, ok := byDoc[id]; !ok {
			ix.Remove(id)
		}
	}
	for _, id := range order {
		ix.Put(id, byDoc[id])
	}
	return len(chunks), nil
}

// embedText is what gets embedded for a chunk: its heading gives short
// sections context.
func embedText(c models.Chunk) string {
	if c.Heading == "" {
		return c.Text
	}
	return c.Heading + "\n\n" + c.Text
}

// deriveTags collects #hashtags and entries of a "tags:" line, lowercased
// and sorted.
func deriveTags(content string) []string {
	set := map[string]struct{}{}
	for _, m := range hashtagPattern.FindAllStringSubmatch(content, -1) {
		set[strings.ToLower(m[1])] = struct{}{}
	}
	for _, m := range tagsLinePattern.FindAllStringSubmatch(content, -1) {
		line := strings.Trim(strings.TrimSpace(m[1]), "[]")
		for _, t := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' }) {
			t = strings.ToLower(strings.Trim(t, `#"'`))
			if t != "" {
				set[t] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

var skippedDirs = map[string]bool{
	".git":         true,
	".obsidian":    true,
	".trash":       true,
	".stversions":  true,
	"node_modules": true,
}

func skipDir(name string) bool {
	return skippedDirs[strings.ToLower(name)]
}

// shouldSkip returns true if the file at path is not a note.
func shouldSkip(path string) bool {
	p := filepath.ToSlash(strings.ToLower(path))
	for dir := range skippedDirs {
		if strings.Contains(p, "/"+dir+"/") {
			return true
		}
	}
	switch filepath.Ext(p) {
	case ".md", ".markdown", ".txt":
		return false
	}
	return true
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
