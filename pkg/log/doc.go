/*
Package log provides structured logging for the ingestion pipeline using
zerolog.

Every stage worker logs through a child logger tagged with its stage name
and the document it is currently processing, so a single zerolog query can
reconstruct one document's path through Refresh -> Download -> Validate ->
Clean -> Flatten -> Lakify -> Solrize.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	stageLog := log.WithStage("download")
	docLog := log.WithDocument(stageLog, doc.ID, doc.Hash)
	docLog.Info().Msg("downloaded")
	docLog.Error().Err(err).Msg("download failed")

# Design Patterns

Global Logger Pattern: a single package-level Logger instance, initialized
once in cmd/pipeline before any stage runs, then narrowed by WithStage and
WithDocument/WithPublisher rather than rebuilt per call site.
*/
package log
