package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ugorji/go/codec"
)

// ChangesetFormat identifies the blob layout. It lives inside the blob, not
// on the wire; the frame format itself carries no version.
const ChangesetFormat = 1

// ClassRow ...
type ClassRow struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SchoolYear string `json:"school_year"`
}

// StudentRow ...
type StudentRow struct {
	ID      int64  `json:"id"`
	ClassID int64  `json:"class_id"`
	Name    string `json:"name"`
}

// ObservationRow ...
type ObservationRow struct {
	ID             int64  `json:"id"`
	StudentID      int64  `json:"student_id"`
	AuthorID       int64  `json:"author_id"`
	Category       string `json:"category"`
	Text           string `json:"text"`
	Tags           string `json:"tags"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	SourceDeviceID string `json:"source_device_id"`
}

// AttachmentRow ...
type AttachmentRow struct {
	ID            int64  `json:"id"`
	ObservationID int64  `json:"observation_id"`
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	FileData      []byte `json:"file_data"`
	FileHash      string `json:"file_hash"`
	CreatedAt     int64  `json:"created_at"`
}

// Changeset is the decoded form of the blob exchanged between devices. Rows
// are grouped per table; the slice order within a table is not significant,
// dependency ordering is enforced at apply time.
type Changeset struct {
	Format       int              `json:"format"`
	DeviceID     string           `json:"device_id"`
	Classes      []ClassRow       `json:"classes"`
	Students     []StudentRow     `json:"students"`
	Observations []ObservationRow `json:"observations"`
	Attachments  []AttachmentRow  `json:"attachments"`
}

// Empty reports whether the changeset carries no rows.
func (c *Changeset) Empty() bool {
	return len(c.Classes) == 0 && len(c.Students) == 0 &&
		len(c.Observations) == 0 && len(c.Attachments) == 0
}

// Marshal returns the canonical encoding of the changeset.
func (c *Changeset) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(c); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes an encoded changeset.
func (c *Changeset) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(c)
}

// Digest returns the hex SHA-256 of an encoded changeset, as recorded in
// sync_state.changeset_digest.
func Digest(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
