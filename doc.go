// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq builds and reads MPQ (Mo'PaQ) archives.

MPQ is the archive format Blizzard Entertainment used for Diablo, StarCraft,
Warcraft III and World of Warcraft. This package writes format versions 1
through 4 and reads the classic hash and block tables of all of them.

# Building

The encoder lays out a list of records in memory and publishes the result
atomically:

	records := []mpq.FileRecord{
		{Name: `Data\Readme.txt`, Data: readme, Compress: true},
		{Name: `Scripts\Main.lua`, Data: script, Compress: true, Encrypt: true, FixKey: true},
	}
	err := mpq.WriteArchive("patch.mpq", records, mpq.BuildOptions{
		Version:    mpq.FormatV2,
		Listfile:   true,
		Attributes: mpq.AttrCRC32 | mpq.AttrMD5,
	})

[Create] offers the same through an incremental [Writer], and [Build]
returns the [Image] without touching disk. Records keep their order in the
block table. The hash table grows to the next power of two when it has
fewer slots than entries.

# Reading

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	data, err := archive.ReadFile(`Data\Readme.txt`)

[Open] finds the header at any 512-byte boundary in the first MiB, following
a user data preamble when present. Sector CRC mismatches come back as
[*IntegrityError] values alongside the decoded content. [PatchChain] layers
archives by priority and honors delete markers.

# Path Conventions

Names are case-insensitive and use backslash separators. Forward slashes are
accepted everywhere and hash the same as backslashes:

	archive.HasFile(`Data\SubDir\file.txt`) // Native MPQ format
	archive.HasFile("Data/SubDir/file.txt")  // Also works

# Limitations

  - Compression: zlib, bzip2 and sparse. PKWare implode, Huffman, LZMA and
    ADPCM sectors are rejected with ErrUnsupportedCompression.
  - HET and BET tables are neither written nor read.
  - Archives are assembled in memory and must fit the 32-bit block table.
*/
package mpq
