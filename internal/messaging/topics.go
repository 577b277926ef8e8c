package messaging

// Topic constants for the mining pool messaging system
const (
	TopicJobs            = "mining.jobs"             // jobmanager → stratum front-ends
	TopicShares          = "mining.shares"           // stratum front-ends → jobmanager
	TopicShareResults    = "mining.share_results"    // jobmanager → stats consumers
	TopicShareResponses  = "mining.share_responses"  // jobmanager → stratum front-ends
	TopicBlockCandidates = "mining.block_candidates" // jobmanager → blocksubmit
	TopicBlockResults    = "mining.block_results"    // blocksubmit → stats consumers
)
