package protocol

import "github.com/gosoulseek/gosoulseek/core"

// TransferDirection discriminates TransferRequest.
type TransferDirection int

// Transfer directions, as on the wire: 0 means the sender of the request
// wants to download from us, 1 means it wants to upload to us.
const (
	DirectionRequestDownload TransferDirection = 0
	DirectionRequestUpload   TransferDirection = 1
)

// PeerInit opens a direct peer connection, naming the initiating user and the
// channel kind the socket will carry.
type PeerInit struct {
	peerMsg
	Username string
	Kind     core.ConnKind
	Token    core.Token
}

func (PeerInit) initMessage() {}

// PierceFireWall opens a reverse peer connection, identifying it by the token
// we relayed through the server.
type PierceFireWall struct {
	peerMsg
	Token core.Token
}

func (PierceFireWall) initMessage() {}

// GetSharedFileList asks a peer for its share listing.
type GetSharedFileList struct {
	peerMsg
}

// FileEntry is one shared file in a listing.
type FileEntry struct {
	Filename string
	Size     int64
	Ext      string
	Bitrate  int
	Length   int
}

// SharedFileList answers GetSharedFileList with folders of files.
type SharedFileList struct {
	peerMsg
	Folders map[string][]FileEntry
}

// UserInfoRequest asks a peer for its profile.
type UserInfoRequest struct {
	peerMsg
}

// UserInfoReply answers UserInfoRequest.
type UserInfoReply struct {
	peerMsg
	Description   string
	Picture       []byte
	TotalUpl      int
	QueueSize     int
	SlotsFree     bool
	UploadAllowed int
}

// FolderContentsRequest asks a peer for the files of one folder.
type FolderContentsRequest struct {
	peerMsg
	Folder string
}

// FolderContentsResponse answers FolderContentsRequest.
type FolderContentsResponse struct {
	peerMsg
	Folders map[string][]FileEntry
}

// TransferRequest starts transfer negotiation for one file.
type TransferRequest struct {
	peerMsg
	Direction TransferDirection
	Req       core.RequestID
	Filename  string
	Size      int64
}

// TransferResponse answers TransferRequest. When Allowed is false, Reason
// explains the refusal and is displayed verbatim by the requester.
type TransferResponse struct {
	peerMsg
	Req     core.RequestID
	Allowed bool
	Reason  string
	Size    int64
}

// QueueUpload asks us to queue an upload of Filename to the requester.
type QueueUpload struct {
	peerMsg
	Filename string
}

// QueueFailed reports that a queued transfer was rejected.
type QueueFailed struct {
	peerMsg
	Filename string
	Reason   string
}

// UploadFailed reports that the peer's upload of Filename to us broke.
type UploadFailed struct {
	peerMsg
	Filename string
}

// PlaceInQueueRequest asks where the requester's file sits in our upload
// queue.
type PlaceInQueueRequest struct {
	peerMsg
	Filename string
}

// PlaceInQueue answers PlaceInQueueRequest.
type PlaceInQueue struct {
	peerMsg
	Filename string
	Place    int
}

// UploadQueueNotification announces the peer intends to push files to us.
type UploadQueueNotification struct {
	peerMsg
}

// FileRequest is the first message on an 'F' socket, identifying the transfer
// negotiation the socket belongs to.
type FileRequest struct {
	peerMsg
	Req core.RequestID
}

// FileOffset follows FileRequest from the downloading side, naming the byte
// offset to resume from.
type FileOffset struct {
	peerMsg
	Offset int64
}

// PeerMessageUser is a private chat message sent over a peer connection
// rather than the server. The claimed username is checked against the
// connection's identity.
type PeerMessageUser struct {
	peerMsg
	Username string
	Text     string
}
