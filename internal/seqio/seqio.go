// Package seqio provides the small amount of sequence-file awareness the
// output validator needs: record counting and header sniffing for FASTA and
// FASTQ artifacts, transparently handling gzip via gonomics fileio.
//
// Nothing here interprets sequence content; the bioinformatics tools stay
// opaque collaborators.
package seqio

import (
	"fmt"
	"strings"

	"github.com/vertgenlab/gonomics/fastq"
	"github.com/vertgenlab/gonomics/fileio"
)

// CountFastaRecords counts the '>' header lines in a FASTA file.
//
// The caller must have established that the file exists; gonomics treats a
// missing file as a fatal condition rather than an error.
func CountFastaRecords(path string) (n int, err error) {
	defer recoverTo(&err, path)

	file := fileio.EasyOpen(path)
	defer file.Close()

	for line, done := fileio.EasyNextRealLine(file); !done; line, done = fileio.EasyNextRealLine(file) {
		if strings.HasPrefix(line, ">") {
			n++
		}
	}
	return n, nil
}

// CountFastqRecords counts the records of a FASTQ file.
func CountFastqRecords(path string) (n int, err error) {
	defer recoverTo(&err, path)
	return len(fastq.Read(path)), nil
}

// SniffFastaHeader verifies that the first non-empty line of path is a FASTA
// header.
func SniffFastaHeader(path string) (err error) {
	defer recoverTo(&err, path)

	file := fileio.EasyOpen(path)
	defer file.Close()

	line, done := fileio.EasyNextRealLine(file)
	if done {
		return fmt.Errorf("%s: no records", path)
	}
	if !strings.HasPrefix(line, ">") {
		return fmt.Errorf("%s: first line is not a FASTA header", path)
	}
	return nil
}

// CountLines counts the real (non-comment) lines of a text file.
func CountLines(path string) (n int, err error) {
	defer recoverTo(&err, path)

	file := fileio.EasyOpen(path)
	defer file.Close()

	for _, done := fileio.EasyNextRealLine(file); !done; _, done = fileio.EasyNextRealLine(file) {
		n++
	}
	return n, nil
}

// recoverTo converts a gonomics panic (its exception package panics on IO and
// parse errors) into an ordinary error return.
func recoverTo(err *error, path string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("reading %s: %v", path, r)
	}
}
