package photoprism

// Photo is one entry from the PhotoPrism photo search API.
type Photo struct {
	UID          string `json:"UID"`
	Title        string `json:"Title"`
	Type         string `json:"Type"`
	TakenAt      string `json:"TakenAt"`
	Favorite     bool   `json:"Favorite"`
	Private      bool   `json:"Private"`
	Hash         string `json:"Hash"`
	Width        int    `json:"Width"`
	Height       int    `json:"Height"`
	OriginalName string `json:"OriginalName"` // Original filename when uploaded
	FileName     string `json:"FileName"`     // Current filename
}

// photoFile is one element of the Files array in a photo details
// response. Only the fields the registry needs are decoded.
type photoFile struct {
	UID     string   `json:"UID"`
	Primary bool     `json:"Primary"`
	Hash    string   `json:"Hash"`
	Markers []Marker `json:"Markers"`
}

// Marker is a face/subject region on a photo file. Coordinates are
// relative to the file dimensions (0-1).
type Marker struct {
	UID      string  `json:"UID"`
	FileUID  string  `json:"FileUID"`
	Type     string  `json:"Type"`
	Src      string  `json:"Src"`
	Name     string  `json:"Name"`
	SubjUID  string  `json:"SubjUID"`
	SubjSrc  string  `json:"SubjSrc"`
	FaceID   string  `json:"FaceID"`
	FaceDist float64 `json:"FaceDist"`
	X        float64 `json:"X"`
	Y        float64 `json:"Y"`
	W        float64 `json:"W"`
	H        float64 `json:"H"`
	Size     int     `json:"Size"`
	Score    int     `json:"Score"`
	Invalid  bool    `json:"Invalid"`
	Review   bool    `json:"Review"`
}

// MarkerCreate is the payload for creating a new marker.
type MarkerCreate struct {
	FileUID string  `json:"FileUID"`
	Type    string  `json:"Type"` // "face" for face markers
	X       float64 `json:"X"`
	Y       float64 `json:"Y"`
	W       float64 `json:"W"`
	H       float64 `json:"H"`
	Name    string  `json:"Name"`
	Src     string  `json:"Src"`     // "manual" for markers we create
	SubjSrc string  `json:"SubjSrc"` // "manual" when a person is assigned
}

// MarkerUpdate is the payload for updating an existing marker.
type MarkerUpdate struct {
	Name    string `json:"Name,omitempty"`
	SubjSrc string `json:"SubjSrc,omitempty"`
}
