package mcpserver

// NoteFormatContract describes the note file format that LLM consumers
// should follow when writing note bodies.
const NoteFormatContract = `# Notation Note Format

Notes are plain files in one flat directory. The server owns the file
name and the header; tools only ever exchange titles, bodies and labels.

## File layout

` + "```" + `markdown
---
id: 6f1c2f4e-8d7b-4c1e-9b1a-2d3c4e5f6a7b   # assigned on creation, never edit
title: Weekly standup
labels:
  - meetings
created: 2025-01-20T09:00:00Z
---
Body text in Markdown.
` + "```" + `

## Rules

1. **Titles** name the note. The file name is derived from the title
   (` + "`" + `/` + "`" + `, ` + "`" + `\` + "`" + ` and ` + "`" + `:` + "`" + ` become ` + "`" + `-` + "`" + `); a clash gets a numeric suffix.
2. **Bodies** are sent without the header. Use ` + "`" + `update_note` + "`" + ` with the
   ` + "`" + `checksum` + "`" + ` returned by ` + "`" + `read_note` + "`" + ` to avoid overwriting concurrent edits.
3. **Labels** are free-form strings; duplicates and blanks are dropped.
4. **Wiki links** use ` + "`" + `[[Title]]` + "`" + ` or ` + "`" + `[[Title|shown text]]` + "`" + `. Targets match note
   titles case-insensitively and are rewritten when a note is renamed
   through ` + "`" + `rename_note` + "`" + `.
5. **Plain files** without a header are accepted; their title is the file
   name and they gain a header the next time they are written.
6. **Writes are deferred.** Changes reach the directory after a short
   quiet period. Call ` + "`" + `flush` + "`" + ` to write them immediately.
7. **Deletes can be undone** with ` + "`" + `undo` + "`" + ` until the next delete or label change
   is made.
`
