package server

// listenBacklog is the pending-connection queue requested from the kernel on
// unix platforms. Linux still caps it at net.core.somaxconn.
const listenBacklog = 5
