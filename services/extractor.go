package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"hn-digest/config"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// ExtractionFailed ist der Platzhaltertext, wenn kein Artikeltext gewonnen werden konnte.
const ExtractionFailed = "[Extraction Failed]"

const maxArticleBytes = 5 << 20

// CustomTransport fügt jeder Anfrage einen Browser-User-Agent hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return t.Transport.RoundTrip(req)
}

// CommandRunner führt ein externes Programm aus und liefert dessen Standardausgabe.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor gewinnt lesbaren Artikeltext zu einer URL.
type Extractor struct {
	Tool     string
	Timeout  time.Duration
	MaxChars int
	Logger   *zap.Logger

	run        CommandRunner
	httpClient *http.Client
	md         *converter.Converter
}

// NewExtractor erstellt einen Extractor aus der Konfiguration.
func NewExtractor(cfg *config.Config, logger *zap.Logger) *Extractor {
	return &Extractor{
		Tool:     cfg.ExtractorTool,
		Timeout:  cfg.ExtractorTimeout,
		MaxChars: cfg.ArticleMaxChars,
		Logger:   logger,
		run:      execRunner,
		httpClient: &http.Client{
			Timeout:   cfg.FetchTimeout,
			Transport: &CustomTransport{Transport: http.DefaultTransport},
		},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Extract liefert den bereinigten, gekürzten Artikeltext. Schlagen beide Wege fehl, wird
// ExtractionFailed geliefert; Extract liefert nie einen Fehler.
func (e *Extractor) Extract(ctx context.Context, url string) string {
	log := e.Logger.With(zap.String("url", url))
	if url == "" {
		return ExtractionFailed
	}

	text, err := e.extractWithTool(ctx, url)
	if err == nil {
		return Truncate(text, e.MaxChars)
	}
	log.Warn("Extraktion mit externem Tool fehlgeschlagen, versuche HTTP-Fallback.", zap.String("tool", e.Tool), zap.Error(err))

	text, err = e.extractWithHTTP(ctx, url)
	if err == nil {
		return Truncate(text, e.MaxChars)
	}
	log.Warn("HTTP-Fallback fehlgeschlagen.", zap.Error(err))
	return ExtractionFailed
}

func (e *Extractor) extractWithTool(ctx context.Context, url string) (string, error) {
	if e.Tool == "" || e.run == nil {
		return "", fmt.Errorf("kein extraktionstool konfiguriert")
	}
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	out, err := e.run(ctx, e.Tool, "-u", url)
	if err != nil {
		return "", err
	}
	text := CleanText(string(out))
	if text == "" {
		return "", fmt.Errorf("leere ausgabe von %s", e.Tool)
	}
	return text, nil
}

func (e *Extractor) extractWithHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("article request failed with status: %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxArticleBytes)
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return nonEmpty(CleanText(string(raw)))
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("fehler beim parsen des html: %w", err)
	}
	doc.Find("script, style, noscript, iframe, svg, nav, header, footer, aside, form").Remove()

	sel := doc.Find("article").First()
	if sel.Length() == 0 {
		sel = doc.Find("main").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("body").First()
	}
	fragment, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", err
	}

	md, err := e.md.ConvertString(fragment, converter.WithDomain(url))
	if err != nil {
		return nonEmpty(CleanText(sel.Text()))
	}
	return nonEmpty(CleanText(md))
}

func nonEmpty(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("kein lesbarer text gefunden")
	}
	return s, nil
}
