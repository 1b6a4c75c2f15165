package messages

// Field names as they appear in published JSON.
const (
	FieldType             = "type"
	FieldCommitTime       = "commitTime"
	FieldBoothID          = "boothID"
	FieldBoothSig         = "boothSig"
	FieldSubmissionID     = "submissionID"
	FieldDigest           = "digest"
	FieldInternalDigest   = "_digest"
	FieldFileName         = "_fileName"
	FieldFileSize         = "fileSize"
	FieldPrinterID        = "printerID"
	FieldSerialNo         = "serialNo"
	FieldDistrict         = "district"
	FieldVotePrefs        = "_vPrefs"
	FieldRaces            = "races"
	FieldStartEVMSig      = "startEVMSig"
	FieldSerialSig        = "serialSig"
	FieldBallotReductions = "ballotReductions"
	FieldCancelAuthID     = "cancelAuthID"
	FieldCancelAuthSig    = "cancelAuthSig"
	FieldPermutation      = "permutation"
	FieldCommitWitness    = "commitWitness"
	FieldReducedPerms     = "_reducedPerms"
)

// CommitTimeLength is the number of characters of commitTime that are signed.
const CommitTimeLength = 13

// TruncateCommitTime cuts a commit time down to its signed prefix.
func TruncateCommitTime(commitTime string) string {
	if len(commitTime) > CommitTimeLength {
		return commitTime[:CommitTimeLength]
	}
	return commitTime
}

type fieldType int

const (
	typeString fieldType = iota
	typeNumber
	typeArray
)

func (t fieldType) String() string {
	switch t {
	case typeNumber:
		return "number"
	case typeArray:
		return "array"
	default:
		return "string"
	}
}

type field struct {
	name string
	typ  fieldType
}

var commonFields = []field{
	{FieldType, typeString},
	{FieldCommitTime, typeString},
}

var fileFields = []field{
	{FieldSubmissionID, typeString},
	{FieldDigest, typeString},
	{FieldInternalDigest, typeString},
	{FieldFileName, typeString},
	{FieldFileSize, typeNumber},
	{FieldBoothID, typeString},
	{FieldBoothSig, typeString},
}

// requiredFields lists, per kind, the members that must be present beyond commonFields.
var requiredFields = map[Kind][]field{
	KindPOD: {
		{FieldSerialNo, typeString},
		{FieldDistrict, typeString},
		{FieldBallotReductions, typeArray},
		{FieldBoothID, typeString},
		{FieldBoothSig, typeString},
	},
	KindVote: {
		{FieldSerialNo, typeString},
		{FieldDistrict, typeString},
		{FieldVotePrefs, typeString},
		{FieldBoothID, typeString},
		{FieldBoothSig, typeString},
	},
	KindMixRandomCommit:   append(append([]field{}, fileFields...), field{FieldPrinterID, typeString}),
	KindBallotGenCommit:   fileFields,
	KindBallotAuditCommit: fileFields,
	KindFile:              fileFields,
	KindCancel: {
		{FieldSerialNo, typeString},
		{FieldCancelAuthID, typeString},
		{FieldCancelAuthSig, typeString},
	},
	KindAudit: {
		{FieldSerialNo, typeString},
		{FieldPermutation, typeString},
	},
}
